package config

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestStarlarkEvaluator_Statements(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)

	script := `
require("sass-globbing")
require("breakpoint")

_root = "/blog"

def _join(a, b):
    return a + "/" + b

http_path = _root + "/"
images_dir = _join("source", "images")
line_comments = environment != "production"
`

	st, err := se.Statements(context.Background(), "t.star", script, map[string]interface{}{
		"environment": "production",
	})
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if strings.Join(st.requires, ",") != "sass-globbing,breakpoint" {
		t.Errorf("unexpected requires: %v", st.requires)
	}

	got := make(map[string]Value)
	for _, a := range st.assignments {
		got[a.key] = a.value
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 globals, got %v", got)
	}
	if got[KeyHTTPPath] != StringValue("/blog/") {
		t.Errorf("http_path: got %+v", got[KeyHTTPPath])
	}
	if got[KeyImagesDir] != StringValue("source/images") {
		t.Errorf("images_dir: got %+v", got[KeyImagesDir])
	}
	if got[KeyLineComments] != BoolValue(false) {
		t.Errorf("line_comments: got %+v", got[KeyLineComments])
	}

	// sorted by name
	if st.assignments[0].key != KeyHTTPPath {
		t.Errorf("expected sorted assignments, got %s first", st.assignments[0].key)
	}
}

func TestStarlarkEvaluator_Errors(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)
	ctx := context.Background()

	tests := []struct {
		name   string
		script string
		line   int
		column int // 0 skips the column check
	}{
		{name: "syntax", script: "http_path = \"/\"\ncss_dir = )\n", line: 2, column: 11},
		{name: "undefined", script: "http_path = \"/\"\ncss_dir = root\n", line: 2, column: 11},
		{name: "list value", script: "http_path = \"/\"\ncss_dir = [\"a\", \"b\"]\n", line: 2, column: 1},
		{name: "require arity", script: "http_path = \"/\"\nrequire()\n", line: 2},
		{name: "fail", script: "http_path = \"/\"\n\nfail(\"no\")\n", line: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := se.Statements(ctx, "t.star", tt.script, nil)
			var synErr *SyntaxError
			if !errors.As(err, &synErr) {
				t.Fatalf("expected *SyntaxError, got %v", err)
			}
			if synErr.File != "t.star" || synErr.Line != tt.line {
				t.Errorf("position = %s:%d, want t.star:%d (%v)", synErr.File, synErr.Line, tt.line, err)
			}
			if tt.column != 0 && synErr.Column != tt.column {
				t.Errorf("column = %d, want %d (%v)", synErr.Column, tt.column, err)
			}
		})
	}
}

func TestStarlarkEvaluator_AssignmentPositions(t *testing.T) {
	se := NewStarlarkEvaluator(time.Second)

	st, err := se.Statements(context.Background(), "t.star", "http_path = \"/\"\n\n# note\ncss_dir = \"out\"\n", nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	found := false
	for _, a := range st.assignments {
		if a.key != KeyCSSDir {
			continue
		}
		found = true
		if a.line != 4 || a.column != 1 {
			t.Errorf("css_dir at %d:%d, want 4:1", a.line, a.column)
		}
	}
	if !found {
		t.Fatal("css_dir not assigned")
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	se := NewStarlarkEvaluator(50 * time.Millisecond)

	script := `
def _spin():
    n = 0
    for i in range(1000000000):
        n += i
    return n

total = _spin()
`

	start := time.Now()
	result, err := se.Evaluate(context.Background(), "t.star", script, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout error, got %v", err)
	}
	if result == nil || result.Error == "" {
		t.Error("expected result to carry the error")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
}

func TestLoader_StarlarkEnvironment(t *testing.T) {
	script := "line_comments = environment == \"development\"\n"

	dev := newTestLoader(t, LoadOptions{ApplyDefaults: true})
	lc, err := dev.LoadInline(context.Background(), FormatStarlark, script)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !lc.Project.LineComments {
		t.Error("expected line comments in development")
	}

	prod := newTestLoader(t, LoadOptions{ApplyDefaults: true, Environment: "production"})
	lc, err = prod.LoadInline(context.Background(), FormatStarlark, script)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if lc.Project.LineComments {
		t.Error("expected no line comments in production")
	}
}
