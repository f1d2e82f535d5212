package config

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// StarlarkEvaluator executes Starlark settings files safely.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the exported globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// Requires lists the plugins named by require() calls, in call order.
	Requires []string `json:"requires,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Evaluate executes a Starlark script with the given input and returns the result.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, input map[string]interface{}) (*StarlarkResult, error) {
	startTime := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "sasscfg",
		Print: func(_ *starlark.Thread, msg string) {},
	}

	resultCh := make(chan *StarlarkResult, 1)
	errCh := make(chan error, 1)

	go func() {
		result, err := se.evaluateSync(thread, filename, script, input)
		if err != nil {
			errCh <- err
		} else {
			resultCh <- result
		}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         fmt.Sprintf("execution timeout after %v", se.timeout),
		}, fmt.Errorf("starlark execution timeout after %v", se.timeout)
	case err := <-errCh:
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         err.Error(),
		}, err
	case result := <-resultCh:
		result.ExecutionTime = time.Since(startTime)
		return result, nil
	}
}

// Statements evaluates a Starlark settings file and returns its globals as
// assignments sorted by name.
func (se *StarlarkEvaluator) Statements(ctx context.Context, filename, script string, input map[string]interface{}) (*statements, error) {
	result, err := se.Evaluate(ctx, filename, script, input)
	if err != nil {
		return nil, starlarkSyntaxError(filename, err)
	}
	positions := globalPositions(filename, script)

	names := make([]string, 0, len(result.Output))
	for name := range result.Output {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &statements{requires: result.Requires}
	for _, name := range names {
		if _, isInput := input[name]; isInput {
			continue
		}
		pos, ok := positions[name]
		if !ok {
			pos = sourcePos{line: 1, column: 1}
		}
		v, err := valueFromInterface(result.Output[name])
		if err != nil {
			return nil, &SyntaxError{File: filename, Line: pos.line, Column: pos.column, Message: fmt.Sprintf("%s: %v", name, err)}
		}
		out.assignments = append(out.assignments, assignment{key: name, value: v, line: pos.line, column: pos.column})
	}
	return out, nil
}

type sourcePos struct {
	line, column int
}

// globalPositions maps each top-level assigned name to its last assignment.
// Names assigned in other ways (loops, unpacking) report line 1.
func globalPositions(filename, script string) map[string]sourcePos {
	positions := make(map[string]sourcePos)
	f, err := syntax.LegacyFileOptions().Parse(filename, script, 0)
	if err != nil {
		return positions
	}
	for _, stmt := range f.Stmts {
		assign, ok := stmt.(*syntax.AssignStmt)
		if !ok {
			continue
		}
		if id, ok := assign.LHS.(*syntax.Ident); ok {
			positions[id.Name] = sourcePos{line: int(id.NamePos.Line), column: int(id.NamePos.Col)}
		}
	}
	return positions
}

// starlarkSyntaxError positions a Starlark failure. Parse and resolve errors
// carry their own position; evaluation errors use the innermost frame that
// has one.
func starlarkSyntaxError(filename string, err error) error {
	var (
		parseErr   syntax.Error
		resolveErr resolve.ErrorList
		evalErr    *starlark.EvalError
	)

	switch {
	case errors.As(err, &parseErr):
		return &SyntaxError{File: filename, Line: int(parseErr.Pos.Line), Column: int(parseErr.Pos.Col), Message: parseErr.Msg}
	case errors.As(err, &resolveErr):
		first := resolveErr[0]
		return &SyntaxError{File: filename, Line: int(first.Pos.Line), Column: int(first.Pos.Col), Message: first.Msg}
	case errors.As(err, &evalErr):
		for i := 0; i < len(evalErr.CallStack); i++ {
			frame := evalErr.CallStack.At(i)
			if frame.Pos.Line > 0 {
				return &SyntaxError{File: filename, Line: int(frame.Pos.Line), Column: int(frame.Pos.Col), Message: evalErr.Msg}
			}
		}
	}
	return err
}

func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, filename, script string, input map[string]interface{}) (*StarlarkResult, error) {
	var requires []string

	predeclared := starlark.StringDict{
		"require": starlark.NewBuiltin("require", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var name string
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &name); err != nil {
				return nil, err
			}
			requires = append(requires, name)
			return starlark.None, nil
		}),
	}

	for key, val := range input {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	globals, err := starlark.ExecFile(thread, filename, script, predeclared)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}

	output := make(map[string]interface{})
	for name, val := range globals {
		// Skip private globals and helper functions.
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, isFunc := val.(*starlark.Function); isFunc {
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return &StarlarkResult{
		Output:   output,
		Requires: requires,
	}, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

// valueFromInterface converts a decoded scalar to a setting value.
func valueFromInterface(v interface{}) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Value{Kind: ValueNil}, nil
	case bool:
		return BoolValue(val), nil
	case int64:
		return Value{Kind: ValueInt, Int: val}, nil
	case string:
		return StringValue(val), nil
	}
	return Value{}, fmt.Errorf("setting values must be scalars, got %T", v)
}
