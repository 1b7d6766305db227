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

package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	obskiterrors "github.com/obskit/obskit/pkg/errors"
)

func TestApplyFilterSingleOutput(t *testing.T) {
	out, err := applyFilter(".name", []byte(`{"name":"checkout","guid":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, `"checkout"`, string(out))
}

func TestApplyFilterMultipleOutputsBecomeArray(t *testing.T) {
	out, err := applyFilter(".[].name", []byte(`[{"name":"a"},{"name":"b"}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, string(out))
}

func TestApplyFilterSelect(t *testing.T) {
	out, err := applyFilter(`.[] | select(.count > 10)`, []byte(`[{"count":5},{"count":42}]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":42}`, string(out))
}

func TestApplyFilterNoOutputIsNull(t *testing.T) {
	out, err := applyFilter(`.[] | select(.count > 100)`, []byte(`[{"count":5}]`))
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestApplyFilterInvalidExpression(t *testing.T) {
	_, err := applyFilter(`.[ broken`, []byte(`{}`))

	var valErr *obskiterrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "filter", valErr.Field)
}

func TestApplyFilterRuntimeError(t *testing.T) {
	_, err := applyFilter(`.foo[0]`, []byte(`{"foo":"not-an-array"}`))

	var valErr *obskiterrors.ValidationError
	assert.ErrorAs(t, err, &valErr)
}
