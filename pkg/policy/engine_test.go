package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/techblog/sasscfg/pkg/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func referenceProject() *config.Project {
	return &config.Project{
		ProjectType:             config.ProjectTypeStandAlone,
		HTTPPath:                "/tech-blog/",
		HTTPImagesPath:          "/tech-blog/images",
		HTTPGeneratedImagesPath: "/images",
		HTTPFontsPath:           "/tech-blog/fonts",
		CSSDir:                  "public/tech-blog/stylesheets",
		SassDir:                 "sass",
		ImagesDir:               "source/images",
		FontsDir:                "source/fonts",
		LineComments:            false,
		OutputStyle:             config.OutputStyleCompressed,
		Requires:                []string{"sass-globbing"},
	}
}

func violationsOf(result *PolicyResult, policy string) []PolicyViolation {
	var out []PolicyViolation
	for _, v := range result.Violations {
		if v.Policy == policy {
			out = append(out, v)
		}
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	expected := []string{
		"compressed-without-comments",
		"http-paths-rooted",
		"known-plugins",
		"separate-output-dir",
	}
	if len(policies) != len(expected) {
		t.Fatalf("Expected %d built-in policies, got %d", len(expected), len(policies))
	}
	for i, name := range expected {
		if policies[i].Name != name {
			t.Errorf("Expected policy %d to be %s, got %s", i, name, policies[i].Name)
		}
	}
}

func TestEvaluate_ReferenceIsClean(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.EvaluateProject(context.Background(), referenceProject(), nil, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Error("Expected reference settings to be allowed")
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", result.Violations)
	}
	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("Expected 4 evaluated policies, got %v", result.EvaluatedPolicies)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("Expected no evaluation warnings, got %v", result.Warnings)
	}
}

func TestEvaluate_BuiltinPolicies(t *testing.T) {
	eng := newTestEngine(t)

	tests := []struct {
		name          string
		mutate        func(p *config.Project)
		policy        string
		wantCount     int
		wantKey       string
		wantSeverity  Severity
		expectAllowed bool
	}{
		{
			name:          "relative image url",
			mutate:        func(p *config.Project) { p.HTTPImagesPath = "images" },
			policy:        "http-paths-rooted",
			wantCount:     1,
			wantKey:       config.KeyHTTPImagesPath,
			wantSeverity:  SeverityWarning,
			expectAllowed: true,
		},
		{
			name:          "absolute cdn url",
			mutate:        func(p *config.Project) { p.HTTPFontsPath = "https://cdn.example.com/fonts" },
			policy:        "http-paths-rooted",
			wantCount:     0,
			expectAllowed: true,
		},
		{
			name:          "css_dir equals sass_dir",
			mutate:        func(p *config.Project) { p.CSSDir = "./sass/" },
			policy:        "separate-output-dir",
			wantCount:     1,
			wantKey:       config.KeyCSSDir,
			wantSeverity:  SeverityError,
			expectAllowed: false,
		},
		{
			name:          "css_dir nested in sass_dir",
			mutate:        func(p *config.Project) { p.CSSDir = "sass/out" },
			policy:        "separate-output-dir",
			wantCount:     1,
			wantSeverity:  SeverityError,
			wantKey:       config.KeyCSSDir,
			expectAllowed: false,
		},
		{
			name:          "sibling with shared prefix",
			mutate:        func(p *config.Project) { p.CSSDir = "sass-out" },
			policy:        "separate-output-dir",
			wantCount:     0,
			expectAllowed: true,
		},
		{
			name:          "line comments with compressed output",
			mutate:        func(p *config.Project) { p.LineComments = true },
			policy:        "compressed-without-comments",
			wantCount:     1,
			wantKey:       config.KeyLineComments,
			wantSeverity:  SeverityWarning,
			expectAllowed: true,
		},
		{
			name: "line comments with expanded output",
			mutate: func(p *config.Project) {
				p.LineComments = true
				p.OutputStyle = config.OutputStyleExpanded
			},
			policy:        "compressed-without-comments",
			wantCount:     0,
			expectAllowed: true,
		},
		{
			name:          "unknown plugin",
			mutate:        func(p *config.Project) { p.Requires = []string{"sass-globbing", "my-grid"} },
			policy:        "known-plugins",
			wantCount:     1,
			wantKey:       "requires",
			wantSeverity:  SeverityInfo,
			expectAllowed: true,
		},
		{
			name:          "no plugins",
			mutate:        func(p *config.Project) { p.Requires = nil },
			policy:        "known-plugins",
			wantCount:     0,
			expectAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := referenceProject()
			tt.mutate(p)

			result, err := eng.EvaluateProject(context.Background(), p, nil, &PolicyContext{Operation: "lint"})
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v (%+v)", tt.expectAllowed, result.Allowed, result.Violations)
			}

			got := violationsOf(result, tt.policy)
			if len(got) != tt.wantCount {
				t.Fatalf("Expected %d %s violations, got %+v", tt.wantCount, tt.policy, got)
			}
			if tt.wantCount == 0 {
				return
			}
			if got[0].Key != tt.wantKey {
				t.Errorf("Expected key %q, got %q", tt.wantKey, got[0].Key)
			}
			if got[0].Severity != tt.wantSeverity {
				t.Errorf("Expected severity %s, got %s", tt.wantSeverity, got[0].Severity)
			}
			if got[0].Message == "" {
				t.Error("Expected a violation message")
			}
		})
	}
}

func TestEvaluate_LoadedConfigContext(t *testing.T) {
	eng := newTestEngine(t)

	lc := &config.LoadedConfig{
		Project:  referenceProject(),
		Source:   "config.rb",
		Format:   config.FormatRuby,
		Explicit: map[string]bool{config.KeyCSSDir: true},
	}

	result, err := eng.Evaluate(context.Background(), lc, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Context.Source != "config.rb" || result.Context.Format != "rb" {
		t.Errorf("Expected context from loaded config, got %+v", result.Context)
	}
}

func TestSetKnownPlugins(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	p := referenceProject()
	p.Requires = []string{"my-grid"}

	if err := eng.SetKnownPlugins(ctx, []string{"my-grid"}); err != nil {
		t.Fatalf("Failed to set known plugins: %v", err)
	}

	result, err := eng.EvaluateProject(ctx, p, nil, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if n := len(violationsOf(result, "known-plugins")); n != 0 {
		t.Errorf("Expected my-grid to be accepted, got %d violations", n)
	}

	p.Requires = []string{"sass-globbing"}
	result, err = eng.EvaluateProject(ctx, p, nil, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if n := len(violationsOf(result, "known-plugins")); n != 1 {
		t.Errorf("Expected sass-globbing to be reported once the list is replaced, got %d", n)
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	p := referenceProject()
	p.CSSDir = p.SassDir

	if err := eng.DisablePolicy("separate-output-dir"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	result, err := eng.EvaluateProject(ctx, p, nil, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Error("Expected disabled policy to be skipped")
	}
	if len(result.EvaluatedPolicies) != 3 {
		t.Errorf("Expected 3 evaluated policies, got %v", result.EvaluatedPolicies)
	}

	if err := eng.EnablePolicy("separate-output-dir"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	result, err = eng.EvaluateProject(ctx, p, nil, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected re-enabled policy to block")
	}

	if err := eng.EnablePolicy("does-not-exist"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}

func TestAddPolicies_Custom(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{
		Name:     "public-output",
		Severity: SeverityCritical,
		Enabled:  true,
		Rego: `package custom.output

import rego.v1

deny contains violation if {
	not startswith(input.project.css_dir, "public/")
	violation := {"message": "stylesheets must be published from public/", "key": "css_dir"}
}
`,
	}

	if err := eng.AddPolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	p := referenceProject()
	p.CSSDir = "build/css"
	result, err := eng.EvaluateProject(ctx, p, nil, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	got := violationsOf(result, "public-output")
	if len(got) != 1 || got[0].Severity != SeverityCritical {
		t.Fatalf("Expected one critical violation, got %+v", got)
	}
	if result.Allowed {
		t.Error("Expected critical violation to block")
	}

	summary := result.Summary()
	if summary.ViolationsBySeverity[SeverityCritical] != 1 || summary.TotalPolicies != 5 {
		t.Errorf("Unexpected summary: %+v", summary)
	}

	if err := eng.ReplaceCustomPolicies(ctx, nil); err != nil {
		t.Fatalf("Failed to replace custom policies: %v", err)
	}
	if len(eng.ListPolicies()) != 4 {
		t.Errorf("Expected only built-in policies after replace, got %d", len(eng.ListPolicies()))
	}
}

func TestAddPolicies_InvalidRego(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AddPolicies(context.Background(), []Policy{{
		Name:    "broken",
		Enabled: true,
		Rego:    "package broken\n\ndeny contains x if {",
	}})
	if err == nil {
		t.Fatal("Expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("Broken policy should not be registered")
	}
}

func TestReplaceCustomPolicies_KeepsCurrentOnError(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	valid := Policy{Name: "public-output", Severity: SeverityError, Enabled: true, Rego: publicOutputRego}
	if err := eng.ReplaceCustomPolicies(ctx, []Policy{valid}); err != nil {
		t.Fatalf("Failed to replace custom policies: %v", err)
	}

	replacement := []Policy{
		{Name: "other-output", Severity: SeverityError, Enabled: true, Rego: strings.Replace(publicOutputRego, "custom.output", "custom.other", 1)},
		{Name: "broken", Enabled: true, Rego: "package broken\n\ndeny contains x if {"},
	}
	if err := eng.ReplaceCustomPolicies(ctx, replacement); err == nil {
		t.Fatal("Expected compile error")
	}

	if _, err := eng.GetPolicy("public-output"); err != nil {
		t.Errorf("Previous custom policy was dropped: %v", err)
	}
	for _, name := range []string{"other-output", "broken"} {
		if _, err := eng.GetPolicy(name); err == nil {
			t.Errorf("Policy %s from the failed replace was registered", name)
		}
	}
	if n := len(eng.ListPolicies()); n != 5 {
		t.Errorf("Expected 4 built-in and 1 custom policy, got %d", n)
	}
}

func TestCustomPolicy_ReadsKnownPlugins(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	allowList := Policy{
		Name:     "allow-list-size",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego: `package custom.plugins

import rego.v1

deny contains violation if {
	count(data.sasscfg.known_plugins) < 2
	violation := {"message": "plugin allow-list is too short", "key": "requires"}
}
`,
	}
	if err := eng.AddPolicies(ctx, []Policy{allowList}); err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	result, err := eng.EvaluateProject(ctx, referenceProject(), nil, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if n := len(violationsOf(result, "allow-list-size")); n != 0 {
		t.Errorf("Expected the default allow-list to be visible, got %d violations", n)
	}

	if err := eng.SetKnownPlugins(ctx, []string{"only-one"}); err != nil {
		t.Fatalf("Failed to set known plugins: %v", err)
	}
	result, err = eng.EvaluateProject(ctx, referenceProject(), nil, nil)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if n := len(violationsOf(result, "allow-list-size")); n != 1 {
		t.Errorf("Expected the replaced allow-list to be visible, got %d violations", n)
	}
}

func TestReloadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if err := eng.AddPolicies(ctx, []Policy{{
		Name:    "noop",
		Enabled: true,
		Rego:    "package noop\n\nimport rego.v1\n\ndeny contains x if {\n\tfalse\n\tx := \"never\"\n}\n",
	}}); err != nil {
		t.Fatalf("Failed to add policy: %v", err)
	}

	if err := eng.ReloadPolicies(ctx); err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}
	if _, err := eng.GetPolicy("noop"); err == nil {
		t.Error("Expected custom policy to be dropped on reload")
	}
	if _, err := eng.GetPolicy("known-plugins"); err != nil {
		t.Errorf("Expected built-in policy after reload: %v", err)
	}
}
