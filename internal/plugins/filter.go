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
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"

	"github.com/obskit/obskit/pkg/errors"
)

// applyFilter runs a jq expression over a JSON document and returns the
// filtered JSON. A filter producing one value yields that value; multiple
// values yield an array.
func applyFilter(expression string, data []byte) ([]byte, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "filter",
			Message:    fmt.Sprintf("invalid jq expression: %v", err),
			Suggestion: "see https://jqlang.org/manual/ for jq syntax",
		}
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding result for filter")
	}

	var outputs []any
	iter := query.Run(doc)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, &errors.ValidationError{
				Field:   "filter",
				Message: fmt.Sprintf("filter evaluation failed: %v", err),
			}
		}
		outputs = append(outputs, v)
	}

	var out any
	switch len(outputs) {
	case 0:
		out = nil
	case 1:
		out = outputs[0]
	default:
		out = outputs
	}

	filtered, err := json.Marshal(out)
	if err != nil {
		return nil, errors.Wrap(err, "encoding filtered result")
	}
	return filtered, nil
}
