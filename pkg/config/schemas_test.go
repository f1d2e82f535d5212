package config

import (
	"context"
	"strings"
	"testing"
)

func TestSchemaRegistry_Builtin(t *testing.T) {
	sr := NewSchemaRegistry()

	names := sr.ListSchemas()
	if len(names) != 1 || names[0] != SchemaProject {
		t.Fatalf("expected [%s], got %v", SchemaProject, names)
	}

	if err := sr.ValidateProject(context.Background(), referenceProject()); err != nil {
		t.Errorf("reference project should validate: %v", err)
	}
}

func TestSchemaRegistry_ValidateProject(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(p *Project)
		wantErr string
	}{
		{name: "valid", mutate: func(p *Project) {}},
		{name: "no requires", mutate: func(p *Project) { p.Requires = nil }},
		{name: "rails", mutate: func(p *Project) { p.ProjectType = ProjectTypeRails }},
		{name: "bad output style", mutate: func(p *Project) { p.OutputStyle = "minified" }, wantErr: "output_style"},
		{name: "bad project type", mutate: func(p *Project) { p.ProjectType = "django" }, wantErr: "project_type"},
		{name: "empty dir", mutate: func(p *Project) { p.SassDir = "" }, wantErr: "sass_dir"},
		{name: "empty plugin", mutate: func(p *Project) { p.Requires = []string{""} }, wantErr: "requires"},
	}

	sr := NewSchemaRegistry()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := referenceProject()
			tt.mutate(p)

			err := sr.ValidateProject(context.Background(), p)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error to mention %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSchemaRegistry_ExtendSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("open extension adds constraints", func(t *testing.T) {
		sr := NewSchemaRegistry()
		err := sr.ExtendSchema(SchemaProject, `#Project: {output_style: "compressed", ...}`)
		if err != nil {
			t.Fatalf("extend failed: %v", err)
		}

		if err := sr.ValidateProject(ctx, referenceProject()); err != nil {
			t.Errorf("reference project should still validate: %v", err)
		}

		p := referenceProject()
		p.OutputStyle = OutputStyleExpanded
		if err := sr.ValidateProject(ctx, p); err == nil {
			t.Error("expected extension to reject expanded output")
		}
	})

	// Two closed definitions only allow the fields both declare.
	t.Run("closed extension narrows the field set", func(t *testing.T) {
		sr := NewSchemaRegistry()
		if err := sr.ExtendSchema(SchemaProject, `#Project: {css_dir: string}`); err != nil {
			t.Fatalf("extend failed: %v", err)
		}
		if err := sr.ValidateProject(ctx, referenceProject()); err == nil {
			t.Error("expected closed extension to reject the other settings")
		}
	})

	t.Run("unknown schema", func(t *testing.T) {
		sr := NewSchemaRegistry()
		if err := sr.ExtendSchema("missing", `x: 1`); err == nil {
			t.Error("expected error for unknown schema")
		}
	})

	t.Run("invalid cue", func(t *testing.T) {
		sr := NewSchemaRegistry()
		if err := sr.ExtendSchema(SchemaProject, `#Project: {`); err == nil {
			t.Error("expected compile error")
		}
	})
}

func TestSchemaRegistry_RegisterSchema(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("deploy", `#Deploy: {bucket: string & !=""}`); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if len(sr.ListSchemas()) != 2 {
		t.Errorf("expected 2 schemas, got %v", sr.ListSchemas())
	}

	ctx := context.Background()
	if err := sr.ValidateAgainstSchema(ctx, "deploy", map[string]interface{}{"bucket": "assets"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "deploy", map[string]interface{}{"bucket": ""}); err == nil {
		t.Error("expected empty bucket to fail")
	}
	if err := sr.ValidateAgainstSchema(ctx, "nope", nil); err == nil {
		t.Error("expected error for unknown schema")
	}
}
