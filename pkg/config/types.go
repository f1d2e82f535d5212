package config

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ProjectType selects the directory layout the stylesheet compiler assumes.
type ProjectType string

const (
	// ProjectTypeStandAlone is a plain project rooted at the config file.
	ProjectTypeStandAlone ProjectType = "stand_alone"

	// ProjectTypeRails is a project embedded in a Rails application.
	ProjectTypeRails ProjectType = "rails"
)

// OutputStyle is the compression level of generated CSS.
type OutputStyle string

const (
	OutputStyleNested     OutputStyle = "nested"
	OutputStyleExpanded   OutputStyle = "expanded"
	OutputStyleCompact    OutputStyle = "compact"
	OutputStyleCompressed OutputStyle = "compressed"
)

// Format identifies the syntax a settings file is written in.
type Format string

const (
	FormatRuby     Format = "rb"
	FormatYAML     Format = "yaml"
	FormatJSON     Format = "json"
	FormatCUE      Format = "cue"
	FormatStarlark Format = "star"
)

// Recognized keys, in the order they are declared and rendered.
const (
	KeyProjectType             = "project_type"
	KeyHTTPPath                = "http_path"
	KeyHTTPImagesPath          = "http_images_path"
	KeyHTTPGeneratedImagesPath = "http_generated_images_path"
	KeyHTTPFontsPath           = "http_fonts_path"
	KeyCSSDir                  = "css_dir"
	KeySassDir                 = "sass_dir"
	KeyImagesDir               = "images_dir"
	KeyFontsDir                = "fonts_dir"
	KeyLineComments            = "line_comments"
	KeyOutputStyle             = "output_style"
)

var recognizedKeys = []string{
	KeyProjectType,
	KeyHTTPPath,
	KeyHTTPImagesPath,
	KeyHTTPGeneratedImagesPath,
	KeyHTTPFontsPath,
	KeyCSSDir,
	KeySassDir,
	KeyImagesDir,
	KeyFontsDir,
	KeyLineComments,
	KeyOutputStyle,
}

// Keys returns the recognized setting keys in declaration order.
func Keys() []string {
	keys := make([]string, len(recognizedKeys))
	copy(keys, recognizedKeys)
	return keys
}

// IsKnownKey reports whether key is one of the recognized settings.
func IsKnownKey(key string) bool {
	_, ok := keyKinds[key]
	return ok
}

// keyKind is the semantic type a setting accepts.
type keyKind int

const (
	kindPath keyKind = iota
	kindURLPath
	kindEnum
	kindBool
)

var keyKinds = map[string]keyKind{
	KeyProjectType:             kindEnum,
	KeyHTTPPath:                kindURLPath,
	KeyHTTPImagesPath:          kindURLPath,
	KeyHTTPGeneratedImagesPath: kindURLPath,
	KeyHTTPFontsPath:           kindURLPath,
	KeyCSSDir:                  kindPath,
	KeySassDir:                 kindPath,
	KeyImagesDir:               kindPath,
	KeyFontsDir:                kindPath,
	KeyLineComments:            kindBool,
	KeyOutputStyle:             kindEnum,
}

// Project is the flat settings record consumed by the stylesheet compiler.
// It is loaded once and never mutated during a build.
type Project struct {
	ProjectType             ProjectType `json:"project_type" yaml:"project_type" validate:"required,oneof=stand_alone rails"`
	HTTPPath                string      `json:"http_path" yaml:"http_path" validate:"required"`
	HTTPImagesPath          string      `json:"http_images_path" yaml:"http_images_path" validate:"required"`
	HTTPGeneratedImagesPath string      `json:"http_generated_images_path" yaml:"http_generated_images_path" validate:"required"`
	HTTPFontsPath           string      `json:"http_fonts_path" yaml:"http_fonts_path" validate:"required"`
	CSSDir                  string      `json:"css_dir" yaml:"css_dir" validate:"required"`
	SassDir                 string      `json:"sass_dir" yaml:"sass_dir" validate:"required"`
	ImagesDir               string      `json:"images_dir" yaml:"images_dir" validate:"required"`
	FontsDir                string      `json:"fonts_dir" yaml:"fonts_dir" validate:"required"`
	LineComments            bool        `json:"line_comments" yaml:"line_comments"`
	OutputStyle             OutputStyle `json:"output_style" yaml:"output_style" validate:"required,oneof=nested expanded compact compressed"`

	// Requires lists the plugins loaded before the settings are evaluated.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty" validate:"dive,required"`
}

// ValueKind is the literal kind of a setting value as written in the source.
type ValueKind int

const (
	ValueNil ValueKind = iota
	ValueString
	ValueSymbol
	ValueBool
	ValueInt
)

// String returns the kind name used in diagnostics.
func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueSymbol:
		return "symbol"
	case ValueBool:
		return "boolean"
	case ValueInt:
		return "integer"
	default:
		return "nil"
	}
}

// Value is a literal setting value.
type Value struct {
	Kind ValueKind
	Str  string
	Bool bool
	Int  int64
}

// StringValue returns a string literal value.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// SymbolValue returns a symbol literal value.
func SymbolValue(s string) Value { return Value{Kind: ValueSymbol, Str: s} }

// BoolValue returns a boolean literal value.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// String formats the value without quoting.
func (v Value) String() string {
	switch v.Kind {
	case ValueString, ValueSymbol:
		return v.Str
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	default:
		return ""
	}
}

// Interface returns the value as a plain Go value.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case ValueString, ValueSymbol:
		return v.Str
	case ValueBool:
		return v.Bool
	case ValueInt:
		return v.Int
	default:
		return nil
	}
}

// Get returns the value stored under key.
func (p *Project) Get(key string) (Value, bool) {
	switch key {
	case KeyProjectType:
		return SymbolValue(string(p.ProjectType)), true
	case KeyHTTPPath:
		return StringValue(p.HTTPPath), true
	case KeyHTTPImagesPath:
		return StringValue(p.HTTPImagesPath), true
	case KeyHTTPGeneratedImagesPath:
		return StringValue(p.HTTPGeneratedImagesPath), true
	case KeyHTTPFontsPath:
		return StringValue(p.HTTPFontsPath), true
	case KeyCSSDir:
		return StringValue(p.CSSDir), true
	case KeySassDir:
		return StringValue(p.SassDir), true
	case KeyImagesDir:
		return StringValue(p.ImagesDir), true
	case KeyFontsDir:
		return StringValue(p.FontsDir), true
	case KeyLineComments:
		return BoolValue(p.LineComments), true
	case KeyOutputStyle:
		return SymbolValue(string(p.OutputStyle)), true
	}
	return Value{}, false
}

// Set stores v under key after checking that its kind fits the key.
// A nil value clears the setting.
func (p *Project) Set(key string, v Value) error {
	kind, ok := keyKinds[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	if v.Kind == ValueNil {
		p.clear(key)
		return nil
	}

	switch kind {
	case kindPath, kindURLPath:
		if v.Kind != ValueString {
			return &TypeError{Key: key, Want: "string", Got: v.Kind}
		}
	case kindEnum:
		if v.Kind != ValueString && v.Kind != ValueSymbol {
			return &TypeError{Key: key, Want: "symbol", Got: v.Kind}
		}
	case kindBool:
		if v.Kind != ValueBool {
			return &TypeError{Key: key, Want: "boolean", Got: v.Kind}
		}
	}

	switch key {
	case KeyProjectType:
		p.ProjectType = ProjectType(v.Str)
	case KeyHTTPPath:
		p.HTTPPath = v.Str
	case KeyHTTPImagesPath:
		p.HTTPImagesPath = v.Str
	case KeyHTTPGeneratedImagesPath:
		p.HTTPGeneratedImagesPath = v.Str
	case KeyHTTPFontsPath:
		p.HTTPFontsPath = v.Str
	case KeyCSSDir:
		p.CSSDir = v.Str
	case KeySassDir:
		p.SassDir = v.Str
	case KeyImagesDir:
		p.ImagesDir = v.Str
	case KeyFontsDir:
		p.FontsDir = v.Str
	case KeyLineComments:
		p.LineComments = v.Bool
	case KeyOutputStyle:
		p.OutputStyle = OutputStyle(v.Str)
	}
	return nil
}

func (p *Project) clear(key string) {
	switch key {
	case KeyProjectType:
		p.ProjectType = ""
	case KeyHTTPPath:
		p.HTTPPath = ""
	case KeyHTTPImagesPath:
		p.HTTPImagesPath = ""
	case KeyHTTPGeneratedImagesPath:
		p.HTTPGeneratedImagesPath = ""
	case KeyHTTPFontsPath:
		p.HTTPFontsPath = ""
	case KeyCSSDir:
		p.CSSDir = ""
	case KeySassDir:
		p.SassDir = ""
	case KeyImagesDir:
		p.ImagesDir = ""
	case KeyFontsDir:
		p.FontsDir = ""
	case KeyLineComments:
		p.LineComments = false
	case KeyOutputStyle:
		p.OutputStyle = ""
	}
}

// ToMap returns the record as a key/value map. Requires is included only when
// it is non-empty.
func (p *Project) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(recognizedKeys)+1)
	for _, key := range recognizedKeys {
		v, _ := p.Get(key)
		m[key] = v.Interface()
	}
	if len(p.Requires) > 0 {
		reqs := make([]interface{}, len(p.Requires))
		for i, r := range p.Requires {
			reqs[i] = r
		}
		m["requires"] = reqs
	}
	return m
}

// Clone returns a deep copy of the record.
func (p *Project) Clone() *Project {
	c := *p
	if p.Requires != nil {
		c.Requires = append([]string(nil), p.Requires...)
	}
	return &c
}

// LoadedConfig is a Project together with where and how it was loaded.
type LoadedConfig struct {
	// Project is the settings record.
	Project *Project `json:"project"`

	// Source is the file the settings were read from, or "inline".
	Source string `json:"source"`

	// Format is the syntax of the source.
	Format Format `json:"format"`

	// Explicit holds the keys present in the source.
	Explicit map[string]bool `json:"-"`

	// Diagnostics are non-fatal findings such as unknown keys.
	Diagnostics []ValidationError `json:"diagnostics,omitempty"`

	// Digest is a hex digest of the source bytes.
	Digest string `json:"digest,omitempty"`

	// LoadedAt is when the settings were read.
	LoadedAt time.Time `json:"loaded_at"`
}

// IsSet reports whether key was present in the source.
func (lc *LoadedConfig) IsSet(key string) bool {
	return lc.Explicit[key]
}

// ExplicitKeys returns the keys present in the source, sorted.
func (lc *LoadedConfig) ExplicitKeys() []string {
	keys := make([]string, 0, len(lc.Explicit))
	for k := range lc.Explicit {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Errors returns the diagnostics with error severity.
func (lc *LoadedConfig) Errors() []ValidationError {
	var errs []ValidationError
	for _, d := range lc.Diagnostics {
		if d.Severity == SeverityError {
			errs = append(errs, d)
		}
	}
	return errs
}

// Diagnostic severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ValidationError represents a finding with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the setting key the finding is about.
	Path string `json:"path,omitempty"`

	// Message is the finding message.
	Message string `json:"message"`

	// Severity is the finding severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// String formats the finding as file:line:col: severity: message.
func (ve ValidationError) String() string {
	loc := ve.File
	if ve.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", loc, ve.Line, ve.Column)
	}
	if loc != "" {
		loc += ": "
	}
	if ve.Path != "" {
		return fmt.Sprintf("%s%s: %s: %s", loc, ve.Severity, ve.Path, ve.Message)
	}
	return fmt.Sprintf("%s%s: %s", loc, ve.Severity, ve.Message)
}
