package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when no settings file can be discovered.
	ErrNotFound = errors.New("settings file not found")

	// ErrUnsupportedFormat is returned for file extensions with no loader.
	ErrUnsupportedFormat = errors.New("unsupported settings format")

	// ErrUnknownKey is returned when a key is not a recognized setting.
	ErrUnknownKey = errors.New("unknown setting")
)

// SyntaxError reports malformed source at a position.
type SyntaxError struct {
	File    string
	Line    int
	Column  int
	Message string
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	if e.Column == 0 {
		return fmt.Sprintf("%s:%d: syntax error: %s", e.File, e.Line, e.Message)
	}
	return fmt.Sprintf("%s:%d:%d: syntax error: %s", e.File, e.Line, e.Column, e.Message)
}

// TypeError reports a value whose literal kind does not fit its key.
type TypeError struct {
	Key  string
	Want string
	Got  ValueKind
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("%s expects a %s, got %s", e.Key, e.Want, e.Got)
}

// InvalidError carries every error-severity finding of a failed validation.
type InvalidError struct {
	Source   string
	Findings []ValidationError
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Findings))
	for i, f := range e.Findings {
		msgs[i] = f.String()
	}
	return fmt.Sprintf("invalid settings in %s: %s", e.Source, strings.Join(msgs, "; "))
}
