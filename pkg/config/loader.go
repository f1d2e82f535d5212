package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// LoadOptions controls how settings files are read.
type LoadOptions struct {
	// Strict turns unknown keys and duplicate assignments into errors.
	Strict bool `json:"strict"`

	// ApplyDefaults fills keys absent from the source with the defaults
	// for the project type.
	ApplyDefaults bool `json:"apply_defaults"`

	// Environment is exposed to Starlark sources as `environment`.
	Environment string `json:"environment,omitempty"`

	// StarlarkTimeout bounds Starlark evaluation.
	StarlarkTimeout time.Duration `json:"starlark_timeout,omitempty"`

	// ExtraSchemas are CUE files unified with the built-in #Project schema.
	ExtraSchemas []string `json:"extra_schemas,omitempty"`
}

// Loader reads settings files in any supported format.
type Loader struct {
	opts      LoadOptions
	logger    zerolog.Logger
	schemas   *SchemaRegistry
	starlark  *StarlarkEvaluator
	validator *validator.Validate
}

// NewLoader creates a loader with the given options.
func NewLoader(logger zerolog.Logger, opts LoadOptions) (*Loader, error) {
	if opts.Environment == "" {
		opts.Environment = "development"
	}

	l := &Loader{
		opts:      opts,
		logger:    logger.With().Str("component", "config-loader").Logger(),
		schemas:   NewSchemaRegistry(),
		starlark:  NewStarlarkEvaluator(opts.StarlarkTimeout),
		validator: validator.New(),
	}

	for _, path := range opts.ExtraSchemas {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", path, err)
		}
		if err := l.schemas.ExtendSchema(SchemaProject, string(data)); err != nil {
			return nil, fmt.Errorf("failed to extend schema with %s: %w", path, err)
		}
	}

	return l, nil
}

// Schemas returns the schema registry used for validation.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// FormatForPath returns the format implied by a file name.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".rb", ".config":
		return FormatRuby, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".cue":
		return FormatCUE, nil
	case ".star":
		return FormatStarlark, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// Load reads, validates and returns the settings at path. Findings with
// error severity make Load fail with an *InvalidError; the partially built
// config is returned alongside it.
func (l *Loader) Load(ctx context.Context, path string) (*LoadedConfig, error) {
	lc, err := l.Parse(ctx, path)
	if err != nil {
		return nil, err
	}

	lc.Diagnostics = append(lc.Diagnostics, l.Validate(ctx, lc)...)
	if errs := lc.Errors(); len(errs) > 0 {
		return lc, &InvalidError{Source: lc.Source, Findings: errs}
	}
	return lc, nil
}

// Parse reads the settings at path without running validation.
func (l *Loader) Parse(ctx context.Context, path string) (*LoadedConfig, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return l.parse(ctx, path, format, content)
}

// LoadInline reads settings from content in the given format.
func (l *Loader) LoadInline(ctx context.Context, format Format, content string) (*LoadedConfig, error) {
	lc, err := l.parse(ctx, "inline", format, []byte(content))
	if err != nil {
		return nil, err
	}

	lc.Diagnostics = append(lc.Diagnostics, l.Validate(ctx, lc)...)
	if errs := lc.Errors(); len(errs) > 0 {
		return lc, &InvalidError{Source: lc.Source, Findings: errs}
	}
	return lc, nil
}

func (l *Loader) parse(ctx context.Context, source string, format Format, content []byte) (*LoadedConfig, error) {
	var (
		st  *statements
		err error
	)

	switch format {
	case FormatRuby:
		st, err = parseRubyStatements(source, string(content))
	case FormatYAML, FormatJSON:
		st, err = parseYAMLStatements(source, content)
	case FormatCUE:
		st, err = parseCUEStatements(source, content)
	case FormatStarlark:
		st, err = l.starlark.Statements(ctx, source, string(content), map[string]interface{}{
			"environment": l.opts.Environment,
		})
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	lc := l.assemble(source, st)
	lc.Format = format
	lc.Digest = Digest(content)

	if l.opts.ApplyDefaults {
		ApplyDefaults(lc.Project, lc.Explicit)
	}

	l.logger.Debug().
		Str("source", source).
		Str("format", string(format)).
		Int("keys", len(lc.Explicit)).
		Int("diagnostics", len(lc.Diagnostics)).
		Msg("Settings parsed")

	return lc, nil
}

// assemble applies the assignments in order to a fresh record.
func (l *Loader) assemble(source string, st *statements) *LoadedConfig {
	lc := &LoadedConfig{
		Project:  &Project{},
		Source:   source,
		Explicit: make(map[string]bool),
		LoadedAt: time.Now(),
	}

	lenient := SeverityWarning
	if l.opts.Strict {
		lenient = SeverityError
	}

	for _, a := range st.assignments {
		if !IsKnownKey(a.key) {
			lc.Diagnostics = append(lc.Diagnostics, ValidationError{
				File:     source,
				Line:     a.line,
				Column:   a.column,
				Path:     a.key,
				Message:  "unrecognized setting",
				Severity: lenient,
			})
			continue
		}

		if lc.Explicit[a.key] {
			lc.Diagnostics = append(lc.Diagnostics, ValidationError{
				File:     source,
				Line:     a.line,
				Column:   a.column,
				Path:     a.key,
				Message:  "assigned more than once, last value wins",
				Severity: lenient,
			})
		}

		if err := lc.Project.Set(a.key, a.value); err != nil {
			lc.Diagnostics = append(lc.Diagnostics, ValidationError{
				File:     source,
				Line:     a.line,
				Column:   a.column,
				Path:     a.key,
				Message:  err.Error(),
				Severity: SeverityError,
			})
			continue
		}

		if a.value.Kind == ValueNil {
			delete(lc.Explicit, a.key)
			continue
		}
		lc.Explicit[a.key] = true
	}

	lc.Project.Requires = append(lc.Project.Requires, st.requires...)
	return lc
}

// Digest returns the hex BLAKE2b-256 digest of content.
func Digest(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// discoveryOrder lists candidate settings files relative to a project root.
var discoveryOrder = []string{
	"config/compass.rb",
	".compass/config.rb",
	"config/compass.config",
	"config.rb",
	"src/config.rb",
	"config.yaml",
	"config.yml",
	"config.cue",
	"config.star",
}

// Discover returns the first settings file found under dir.
func Discover(dir string) (string, error) {
	for _, candidate := range discoveryOrder {
		path := filepath.Join(dir, candidate)
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return "", fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNotFound, dir)
}

// ProjectRoot returns the project directory of a settings file by undoing
// the discovery layout: config/compass.rb lives one level below the root.
// The longest matching layout wins, so src/config.rb is not read as config.rb.
func ProjectRoot(settingsPath string) string {
	clean := filepath.ToSlash(filepath.Clean(settingsPath))

	best := ""
	for _, candidate := range discoveryOrder {
		if len(candidate) <= len(best) {
			continue
		}
		if clean == candidate || strings.HasSuffix(clean, "/"+candidate) {
			best = candidate
		}
	}

	switch {
	case best == "":
		return filepath.Dir(settingsPath)
	case clean == best:
		return "."
	}

	root := strings.TrimSuffix(clean, "/"+best)
	if root == "" {
		root = "/"
	}
	return filepath.FromSlash(root)
}

// ResolvePath turns a CLI argument into a settings file: directories are
// searched with Discover, files are returned as is.
func ResolvePath(arg string) (string, error) {
	if arg == "" {
		arg = "."
	}
	info, err := os.Stat(arg)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", arg, err)
	}
	if info.IsDir() {
		return Discover(arg)
	}
	return arg, nil
}
