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

package nerdgraph

import (
	"log/slog"
	"sync"

	"github.com/obskit/obskit/internal/metrics"
	"github.com/obskit/obskit/pkg/errors"
)

// DialFunc creates a new transport on first acquire of a key.
type DialFunc func() (Transport, error)

// PoolKey derives the sharing key for a transport: clients hitting the same
// endpoint with the same credential share one transport. Only a key prefix
// goes into the map so full credentials never sit in pool state.
func PoolKey(endpoint, apiKey string) string {
	prefix := apiKey
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return endpoint + "|" + prefix
}

// Pool shares transports between clients by ref-counting. An entry exists in
// the pool exactly while its refcount is at least one: the first Acquire of a
// key dials, the last Release closes.
type Pool struct {
	// entries maps pool key to the live transport and its refcount.
	entries map[string]*poolEntry

	// logger is used for structured logging.
	logger *slog.Logger

	// metrics exports the live entry count (optional).
	metrics *metrics.Metrics

	// mu guards entries.
	mu sync.Mutex
}

type poolEntry struct {
	transport Transport
	refs      int
}

// NewPool creates an empty transport pool.
func NewPool(logger *slog.Logger, m *metrics.Metrics) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		entries: make(map[string]*poolEntry),
		logger:  logger,
		metrics: m,
	}
}

// Acquire returns the shared transport for key, dialing it if this is the
// first reference. A failed dial leaves no entry behind.
func (p *Pool) Acquire(key string, dial DialFunc) (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.entries[key]; ok {
		entry.refs++
		p.logger.Debug("transport reused", "key", key, "refs", entry.refs)
		return entry.transport, nil
	}

	transport, err := dial()
	if err != nil {
		return nil, errors.Wrapf(err, "dialing transport for %s", key)
	}

	p.entries[key] = &poolEntry{transport: transport, refs: 1}
	p.metrics.PoolConnections(len(p.entries))
	p.logger.Debug("transport opened", "key", key)
	return transport, nil
}

// Release drops one reference to key, closing the transport when the last
// reference goes. Releasing a key that is not in the pool is a no-op.
func (p *Pool) Release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[key]
	if !ok {
		return
	}

	entry.refs--
	if entry.refs > 0 {
		return
	}

	delete(p.entries, key)
	p.metrics.PoolConnections(len(p.entries))
	if err := entry.transport.Close(); err != nil {
		p.logger.Warn("failed to close transport", "key", key, "error", err)
	}
	p.logger.Debug("transport closed", "key", key)
}

// CloseAll force-closes every pooled transport regardless of refcounts. Meant
// for process shutdown after all clients are done.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, entry := range p.entries {
		if err := entry.transport.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "closing transport for %s", key)
		}
		delete(p.entries, key)
	}
	p.metrics.PoolConnections(0)
	return firstErr
}

// Len reports the number of live entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
