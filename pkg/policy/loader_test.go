package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const publicOutputRego = `# Stylesheets are published from public/
# severity: error
package custom.output

import rego.v1

deny contains violation if {
	not startswith(input.project.css_dir, "public/")
	violation := {"message": "css_dir must be under public/", "key": "css_dir"}
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	policyFile := filepath.Join(t.TempDir(), "public-output.rego")
	writeFile(t, policyFile, publicOutputRego)

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(loaded))
	}

	policy := loaded[0]
	if policy.Name != "public-output" {
		t.Errorf("Expected name 'public-output', got '%s'", policy.Name)
	}
	if policy.Rego != publicOutputRego {
		t.Error("Rego content doesn't match")
	}
	if policy.Severity != SeverityError {
		t.Errorf("Expected severity from comment, got %s", policy.Severity)
	}
	if policy.Description != "Stylesheets are published from public/" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	policyFile := filepath.Join(t.TempDir(), "fonts.json")

	policy := Policy{
		Description: "Fonts are published next to the stylesheets",
		Rego:        "package fonts\n\nimport rego.v1\n\ndeny contains x if {\n\tfalse\n\tx := \"never\"\n}\n",
		Enabled:     true,
		Tags:        []string{"fonts"},
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writeFile(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(loaded))
	}
	if loaded[0].Name != "fonts" {
		t.Errorf("Expected name from file name, got %q", loaded[0].Name)
	}
	if loaded[0].Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", loaded[0].Severity)
	}
	if loaded[0].Metadata["source"] != policyFile {
		t.Errorf("Expected source metadata, got %v", loaded[0].Metadata)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "public-output.rego"), publicOutputRego)
	writeFile(t, filepath.Join(tmpDir, "nested", "other.rego"), "package other\n")
	writeFile(t, filepath.Join(tmpDir, "README.md"), "# Policies")

	bundle := PolicyBundle{
		Name:    "house-style",
		Version: "1.0.0",
		Policies: []Policy{
			{Name: "b", Rego: "package b\n", Enabled: true},
			{Name: "a", Rego: "package a\n", Enabled: true, Severity: SeverityInfo},
		},
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	writeFile(t, filepath.Join(tmpDir, "bundle.json"), string(data))

	loaded, err := loader.loadFromDirectory(context.Background(), tmpDir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}

	// bundle.json (a, b), nested/other.rego, public-output.rego
	want := []string{"a", "b", "other", "public-output"}
	if len(loaded) != len(want) {
		t.Fatalf("Expected %d policies, got %d", len(want), len(loaded))
	}
	for i, name := range want {
		if loaded[i].Name != name {
			t.Errorf("Expected policy %d to be %s, got %s", i, name, loaded[i].Name)
		}
	}
	if loaded[0].Severity != SeverityInfo || loaded[1].Severity != SeverityWarning {
		t.Errorf("Unexpected bundle severities: %s, %s", loaded[0].Severity, loaded[1].Severity)
	}
}

func TestLoadFromPaths(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tmpDir := t.TempDir()
	dir1 := filepath.Join(tmpDir, "dir1")
	writeFile(t, filepath.Join(dir1, "p1.rego"), "package p1\n")
	file1 := filepath.Join(tmpDir, "p2.rego")
	writeFile(t, file1, "package p2\n")

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir1, file1})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(loaded) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded))
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(tmpDir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}
}

func TestLoadBundle(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	bundleFile := filepath.Join(t.TempDir(), "bundle.json")
	bundle := PolicyBundle{
		Name:        "house-style",
		Version:     "1.0.0",
		Description: "Team conventions",
		Policies: []Policy{
			{Name: "one", Rego: "package one\n", Severity: SeverityError, Enabled: true},
			{Name: "two", Rego: "package two\n", Severity: SeverityWarning, Enabled: true},
		},
		CreatedAt: time.Now(),
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		t.Fatalf("Failed to marshal bundle: %v", err)
	}
	writeFile(t, bundleFile, string(data))

	loaded, err := loader.LoadBundle(context.Background(), bundleFile)
	if err != nil {
		t.Fatalf("Failed to load bundle: %v", err)
	}
	if loaded.Name != bundle.Name || loaded.Version != bundle.Version {
		t.Errorf("Unexpected bundle header: %s %s", loaded.Name, loaded.Version)
	}
	if len(loaded.Policies) != 2 {
		t.Errorf("Expected 2 policies, got %d", len(loaded.Policies))
	}
}

func TestExtractDescription(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "single line comment",
			content:  "# Output stays out of the sources\npackage test",
			expected: "Output stays out of the sources",
		},
		{
			name:     "multi line comments",
			content:  "# Output stays out\n# of the sources\npackage test",
			expected: "Output stays out of the sources",
		},
		{
			name:     "no comments",
			content:  "package test\n",
			expected: "",
		},
		{
			name:     "severity line is skipped",
			content:  "# First line\n#\n# severity: info\n# Second line\npackage test",
			expected: "First line Second line",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := loader.extractDescription(tt.content)
			if result != tt.expected {
				t.Errorf("Expected description '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestSeverityFromComments(t *testing.T) {
	tests := map[string]Severity{
		"# severity: critical\npackage x": SeverityCritical,
		"#severity:info\npackage x":       SeverityInfo,
		"# severity: loud\npackage x":     SeverityWarning,
		"package x\n":                     SeverityWarning,
	}
	for content, want := range tests {
		if got := severityFromComments(content); got != want {
			t.Errorf("severityFromComments(%q) = %s, want %s", content, got, want)
		}
	}
}

func TestClearCache(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	policyFile := filepath.Join(t.TempDir(), "test.rego")
	writeFile(t, policyFile, "package test\n")

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)
	tmpDir := t.TempDir()

	txt := filepath.Join(tmpDir, "test.txt")
	writeFile(t, txt, "not a policy")
	if _, err := loader.loadFromFile(context.Background(), txt); err == nil {
		t.Error("Expected error for unsupported file type")
	}

	bad := filepath.Join(tmpDir, "test.json")
	writeFile(t, bad, "invalid json")
	if _, err := loader.loadFromFile(context.Background(), bad); err == nil {
		t.Error("Expected error for invalid JSON")
	}

	if _, err := loader.loadFromPath(context.Background(), filepath.Join(tmpDir, "nope")); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestWatch_ReloadsIntoEngine(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)
	loader.SetDebounce(20 * time.Millisecond)

	eng := newTestEngine(t)

	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan int, 16)
	err := loader.Watch(ctx, []string{dir}, func(ctx context.Context, policies []Policy) error {
		err := eng.ReplaceCustomPolicies(ctx, policies)
		reloaded <- len(policies)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to start watching: %v", err)
	}

	writeFile(t, filepath.Join(dir, "public-output.rego"), publicOutputRego)

	select {
	case n := <-reloaded:
		if n != 1 {
			t.Errorf("Expected 1 reloaded policy, got %d", n)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for policy reload")
	}

	if _, err := eng.GetPolicy("public-output"); err != nil {
		t.Errorf("Expected watched policy in engine: %v", err)
	}
}

func TestTriggerReload_Serialized(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	loader := NewLoader(logger)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "public-output.rego"), publicOutputRego)

	var inFlight, maxInFlight int32
	reloadFn := func(ctx context.Context, policies []Policy) error {
		n := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loader.triggerReload(ctx, []string{dir}, reloadFn); err != nil {
				t.Errorf("reload failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("%d reloads applied at once, want 1", maxInFlight)
	}
}
