// Copyright 2024-2025 FlowSpec
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

package interpreter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	it := New()
	assert.NotNil(t, it)
	assert.Equal(t, MaxDepth, it.config.MaxDepth)
}

func TestValidate_RejectsNilAndScalars(t *testing.T) {
	it := New()

	err := it.Validate(nil)
	assert.Error(t, err)

	err = it.Validate([]interface{}{1, 2, 3})
	assert.Error(t, err)

	err = it.Validate(map[string]interface{}{})
	assert.Error(t, err)
}

func TestValidate_MaxDepthBoundary(t *testing.T) {
	// Depth counts every nested object and array level, scalars
	// included: shallow's innermost scalars sit at depth 4, exactly at
	// the limit; deep's "a" sits at depth 7.
	it := NewWithConfig(Config{MaxDepth: 4})

	shallow := map[string]interface{}{
		"and": []interface{}{
			map[string]interface{}{"==": []interface{}{1, 1}},
		},
	}
	assert.NoError(t, it.Validate(shallow))

	deep := map[string]interface{}{
		"and": []interface{}{
			map[string]interface{}{
				"or": []interface{}{
					map[string]interface{}{
						"==": []interface{}{map[string]interface{}{"var": "a"}, "b"},
					},
				},
			},
		},
	}
	err := it.Validate(deep)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum depth")
}

func TestEvaluate_SimpleComparison(t *testing.T) {
	it := New()
	expr := map[string]interface{}{
		">=": []interface{}{map[string]interface{}{"var": "population"}, 5000},
	}

	value, err := it.Evaluate(expr, map[string]interface{}{"population": 6000})
	require.NoError(t, err)
	assert.Equal(t, true, value)
}

func TestEvaluate_MissingVariableResolvesToNull(t *testing.T) {
	it := New()
	expr := map[string]interface{}{
		">=": []interface{}{map[string]interface{}{"var": "population"}, 5000},
	}

	value, err := it.Evaluate(expr, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, false, value)
}

func TestEvaluate_NilContextTreatedAsEmpty(t *testing.T) {
	it := New()
	expr := map[string]interface{}{"var": "missing"}

	value, err := it.Evaluate(expr, nil)
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestEvaluate_ReferentiallyTransparent(t *testing.T) {
	it := New()
	expr := map[string]interface{}{
		"+": []interface{}{map[string]interface{}{"var": "a"}, 1},
	}
	ctx := map[string]interface{}{"a": 41}

	first, err := it.Evaluate(expr, ctx)
	require.NoError(t, err)
	second, err := it.Evaluate(expr, ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluate_InvalidExpressionReturnsEvalError(t *testing.T) {
	it := New()
	_, err := it.Evaluate(nil, map[string]interface{}{})
	require.Error(t, err)
	var evalErr *EvalError
	assert.ErrorAs(t, err, &evalErr)
}

func TestExtractVars(t *testing.T) {
	expr := map[string]interface{}{
		"and": []interface{}{
			map[string]interface{}{"==": []interface{}{map[string]interface{}{"var": "a.b.c"}, 1}},
			map[string]interface{}{"!=": []interface{}{map[string]interface{}{"var": "x"}, 2}},
		},
	}

	vars := ExtractVars(expr)
	_, hasABC := vars["a.b.c"]
	_, hasX := vars["x"]
	assert.True(t, hasABC)
	assert.True(t, hasX)
	assert.Len(t, vars, 2)
}

func TestExtractVars_NoVars(t *testing.T) {
	expr := map[string]interface{}{"==": []interface{}{1, 1}}
	vars := ExtractVars(expr)
	assert.Empty(t, vars)
}
