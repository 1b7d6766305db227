// Copyright 2025 The Obskit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plugin

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherFiresOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	fired := make(chan struct{}, 1)
	w, err := NewWatcher(WatcherConfig{
		Path:          path,
		DebounceDelay: 20 * time.Millisecond,
		OnChange: func() {
			select {
			case fired <- struct{}{}:
			default:
			}
		},
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never fired after write")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	var calls atomic.Int32
	w, err := NewWatcher(WatcherConfig{
		Path:          path,
		DebounceDelay: 150 * time.Millisecond,
		OnChange:      func() { calls.Add(1) },
	})
	require.NoError(t, err)
	defer w.Close()

	// A burst of writes inside the debounce window collapses to one reload.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	var calls atomic.Int32
	w, err := NewWatcher(WatcherConfig{
		Path:          path,
		DebounceDelay: 20 * time.Millisecond,
		OnChange:      func() { calls.Add(1) },
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("b: 1\n"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestWatcherRequiresPathAndCallback(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{OnChange: func() {}})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{Path: "config.yaml"})
	assert.Error(t, err)
}

func TestWatcherCloseIsClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	w, err := NewWatcher(WatcherConfig{Path: path, OnChange: func() {}})
	require.NoError(t, err)
	assert.NoError(t, w.Close())
}
