package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// parseCUEStatements compiles a CUE settings file and reads its top-level
// fields as assignments.
func parseCUEStatements(file string, content []byte) (*statements, error) {
	ctx := cuecontext.New()

	val := ctx.CompileBytes(content, cue.Filename(file))
	if err := val.Err(); err != nil {
		return nil, convertCUEError(file, err)
	}

	iter, err := val.Fields(cue.Concrete(true))
	if err != nil {
		return nil, convertCUEError(file, err)
	}

	out := &statements{}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		fv := iter.Value()
		pos := fv.Pos()

		if name == keyRequires {
			reqs, err := cueRequires(file, fv)
			if err != nil {
				return nil, err
			}
			out.requires = append(out.requires, reqs...)
			continue
		}

		v, err := cueScalar(file, fv)
		if err != nil {
			return nil, err
		}
		out.assignments = append(out.assignments, assignment{
			key:    name,
			value:  v,
			line:   pos.Line(),
			column: pos.Column(),
		})
	}

	return out, nil
}

func cueScalar(file string, v cue.Value) (Value, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return Value{Kind: ValueNil}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return Value{}, convertCUEError(file, err)
		}
		return StringValue(s), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return Value{}, convertCUEError(file, err)
		}
		return BoolValue(b), nil
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return Value{}, convertCUEError(file, err)
		}
		return Value{Kind: ValueInt, Int: i}, nil
	}

	pos := v.Pos()
	return Value{}, &SyntaxError{
		File:    file,
		Line:    pos.Line(),
		Column:  pos.Column(),
		Message: fmt.Sprintf("setting values must be scalars, got %s", v.IncompleteKind()),
	}
}

func cueRequires(file string, v cue.Value) ([]string, error) {
	if v.IncompleteKind() == cue.StringKind {
		s, err := v.String()
		if err != nil {
			return nil, convertCUEError(file, err)
		}
		return []string{s}, nil
	}

	list, err := v.List()
	if err != nil {
		return nil, convertCUEError(file, err)
	}
	var reqs []string
	for list.Next() {
		s, err := list.Value().String()
		if err != nil {
			return nil, convertCUEError(file, err)
		}
		reqs = append(reqs, s)
	}
	return reqs, nil
}

// convertCUEError turns the first CUE error into a positioned SyntaxError.
func convertCUEError(file string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &SyntaxError{File: file, Line: 1, Column: 1, Message: err.Error()}
	}

	e := errs[0]
	se := &SyntaxError{File: file, Line: 1, Column: 1, Message: errors.Details(e, nil)}
	if pos := errors.Positions(e); len(pos) > 0 {
		if name := pos[0].Filename(); name != "" {
			se.File = name
		}
		se.Line = pos[0].Line()
		se.Column = pos[0].Column()
	}
	return se
}

// convertCUEErrors converts CUE errors to ValidationError values.
func convertCUEErrors(source string, err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			File:     source,
			Message:  errors.Details(e, nil),
			Severity: SeverityError,
		}
		if path := e.Path(); len(path) > 0 {
			ve.Path = path[len(path)-1]
		}
		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}
