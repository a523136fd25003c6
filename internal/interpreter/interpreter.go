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

// Package interpreter evaluates JSONLogic-shaped expressions against a
// caller-supplied context map. It is pure and thread-safe: Evaluate and
// Validate never mutate shared state and never panic across their
// exported boundary.
package interpreter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diegoholiveira/jsonlogic/v3"
)

// MaxDepth is the maximum recursion depth an expression may reach
// before Validate rejects it.
const MaxDepth = 10

// Config controls evaluation behavior.
type Config struct {
	// MaxDepth overrides the default recursion ceiling; zero means
	// MaxDepth (10).
	MaxDepth int
	// Timeout bounds a single Evaluate call. Zero disables the bound.
	Timeout time.Duration
}

// DefaultConfig returns the interpreter's default configuration.
func DefaultConfig() Config {
	return Config{MaxDepth: MaxDepth, Timeout: 5 * time.Second}
}

// Interpreter evaluates and validates JSONLogic-shaped expressions.
type Interpreter struct {
	config Config
}

// New creates an Interpreter with default configuration.
func New() *Interpreter {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an Interpreter with the supplied configuration.
// A zero MaxDepth becomes MaxDepth; a zero Timeout stays zero and
// disables the evaluation time bound.
func NewWithConfig(cfg Config) *Interpreter {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = MaxDepth
	}
	return &Interpreter{config: cfg}
}

// ValidationError carries every structural problem Validate found.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 1 {
		return e.Messages[0]
	}
	return fmt.Sprintf("%d validation errors: %v", len(e.Messages), e.Messages)
}

// Validate checks expr structurally: non-nil, a non-array object with
// at least one key, and within MaxDepth. It does not type-check
// operator arity.
func (it *Interpreter) Validate(expr interface{}) error {
	if expr == nil {
		return &ValidationError{Messages: []string{"expression cannot be nil"}}
	}
	obj, ok := expr.(map[string]interface{})
	if !ok {
		return &ValidationError{Messages: []string{"expression must be a JSON object, not an array or scalar"}}
	}
	if len(obj) == 0 {
		return &ValidationError{Messages: []string{"expression must have at least one operator key"}}
	}

	var messages []string
	validateDepth(expr, 0, it.config.MaxDepth, &messages)
	if len(messages) > 0 {
		return &ValidationError{Messages: messages}
	}
	return nil
}

// validateDepth walks expr recursively, the same shape as the
// teacher's validateDepth/validateOperatorsRecursive pair, collecting
// every depth violation instead of stopping at the first.
func validateDepth(obj interface{}, depth, maxDepth int, messages *[]string) {
	if depth > maxDepth {
		*messages = append(*messages, fmt.Sprintf("expression exceeds maximum depth of %d", maxDepth))
		return
	}
	switch v := obj.(type) {
	case map[string]interface{}:
		for _, value := range v {
			validateDepth(value, depth+1, maxDepth, messages)
		}
	case []interface{}:
		for _, item := range v {
			validateDepth(item, depth+1, maxDepth, messages)
		}
	}
}

// EvalError wraps any failure surfaced by Evaluate: a malformed
// expression, an interpreter panic, or a marshal/unmarshal failure.
// Evaluate never lets such failures escape as a native panic.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string { return e.Message }

// Evaluate runs expr against ctx using JSONLogic semantics. A missing
// "var" path resolves to null rather than erroring, so a condition
// over absent data reports false, not an error. Any exception from the
// underlying interpreter is captured and returned as an EvalError.
func (it *Interpreter) Evaluate(expr interface{}, ctx map[string]interface{}) (value interface{}, err error) {
	if err := it.Validate(expr); err != nil {
		return nil, &EvalError{Message: err.Error()}
	}
	if ctx == nil {
		ctx = map[string]interface{}{}
	}

	return it.applyWithTimeout(expr, ctx)
}

// applyWithTimeout mirrors the teacher's channel-based timeout guard
// around jsonlogic.Apply, recovering a panic from the library into an
// EvalError instead of letting it cross the goroutine boundary.
func (it *Interpreter) applyWithTimeout(expr interface{}, ctx map[string]interface{}) (value interface{}, err error) {
	if it.config.Timeout <= 0 {
		defer func() {
			if r := recover(); r != nil {
				value, err = nil, &EvalError{Message: fmt.Sprintf("expression evaluation panicked: %v", r)}
			}
		}()
		return applyJSONLogic(expr, ctx)
	}

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &EvalError{Message: fmt.Sprintf("expression evaluation panicked: %v", r)}}
			}
		}()
		value, err := applyJSONLogic(expr, ctx)
		done <- outcome{value: value, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-time.After(it.config.Timeout):
		return nil, &EvalError{Message: fmt.Sprintf("expression evaluation timed out after %v", it.config.Timeout)}
	}
}

// applyJSONLogic marshals expr/ctx to JSON, runs jsonlogic.Apply, and
// unmarshals the result back into a dynamically typed Go value.
func applyJSONLogic(expr interface{}, ctx map[string]interface{}) (interface{}, error) {
	ruleJSON, err := json.Marshal(expr)
	if err != nil {
		return nil, &EvalError{Message: fmt.Sprintf("failed to marshal expression: %v", err)}
	}
	dataJSON, err := json.Marshal(ctx)
	if err != nil {
		return nil, &EvalError{Message: fmt.Sprintf("failed to marshal context: %v", err)}
	}

	var out bytes.Buffer
	if err := jsonlogic.Apply(bytes.NewReader(ruleJSON), bytes.NewReader(dataJSON), &out); err != nil {
		return nil, &EvalError{Message: err.Error()}
	}

	var value interface{}
	dec := json.NewDecoder(&out)
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return nil, &EvalError{Message: fmt.Sprintf("failed to decode evaluation result: %v", err)}
	}
	return normalizeNumbers(value), nil
}

// normalizeNumbers converts json.Number leaves to float64/int64 so
// downstream code (and re-marshaling to valueJson) sees ordinary Go
// numeric types instead of the decoder's intermediate representation.
func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}

// ExtractVars walks expr and collects every dotted path referenced by
// a {"var": path} node. Order is undefined; callers should compare as
// sets.
func ExtractVars(expr interface{}) map[string]struct{} {
	vars := make(map[string]struct{})
	extractVars(expr, vars)
	return vars
}

func extractVars(obj interface{}, vars map[string]struct{}) {
	switch v := obj.(type) {
	case map[string]interface{}:
		for key, value := range v {
			if key == "var" {
				switch path := value.(type) {
				case string:
					if path != "" {
						vars[path] = struct{}{}
					}
				case []interface{}:
					if len(path) > 0 {
						if s, ok := path[0].(string); ok && s != "" {
							vars[s] = struct{}{}
						}
					}
				}
				continue
			}
			extractVars(value, vars)
		}
	case []interface{}:
		for _, item := range v {
			extractVars(item, vars)
		}
	}
}
