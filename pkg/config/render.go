package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/format"
	"gopkg.in/yaml.v3"
)

// Render writes p in the given format. Ruby output parses back to the same
// record.
func Render(w io.Writer, p *Project, f Format) error {
	switch f {
	case FormatRuby:
		_, err := io.WriteString(w, RenderRuby(p))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case FormatCUE:
		out, err := renderCUE(p)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
}

// RenderRuby returns p as a settings file in the Ruby syntax.
func RenderRuby(p *Project) string {
	var b strings.Builder

	for _, r := range p.Requires {
		fmt.Fprintf(&b, "require %s\n", rubySingleQuote(r))
	}
	if len(p.Requires) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("# Require any additional compass plugins here.\n")
	fmt.Fprintf(&b, "project_type = %s\n\n", rubySymbol(string(p.ProjectType)))

	b.WriteString("# Publishing paths\n")
	for _, key := range []string{KeyHTTPPath, KeyHTTPImagesPath, KeyHTTPGeneratedImagesPath, KeyHTTPFontsPath, KeyCSSDir} {
		v, _ := p.Get(key)
		fmt.Fprintf(&b, "%s = %s\n", key, rubyDoubleQuote(v.Str))
	}

	b.WriteString("\n# Local development paths\n")
	for _, key := range []string{KeySassDir, KeyImagesDir, KeyFontsDir} {
		v, _ := p.Get(key)
		fmt.Fprintf(&b, "%s = %s\n", key, rubyDoubleQuote(v.Str))
	}

	fmt.Fprintf(&b, "\nline_comments = %t\n", p.LineComments)
	fmt.Fprintf(&b, "output_style = %s\n", rubySymbol(string(p.OutputStyle)))

	return b.String()
}

func rubyDoubleQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		case '#':
			if i+1 < len(s) && s[i+1] == '{' {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func rubySingleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// rubySymbol writes name as a bare symbol when it is a plain identifier.
func rubySymbol(name string) string {
	if name == "" {
		return "nil"
	}
	for i, r := range name {
		if !(isIdentPart(r) && (i > 0 || isIdentStart(r))) {
			return ":" + rubyDoubleQuote(name)
		}
	}
	return ":" + name
}

func renderCUE(p *Project) ([]byte, error) {
	ctx := cuecontext.New()
	val := ctx.Encode(p)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode cue: %w", err)
	}

	out, err := format.Node(val.Syntax(cue.Concrete(true)))
	if err != nil {
		return nil, fmt.Errorf("failed to format cue: %w", err)
	}

	// Syntax wraps a top-level struct in braces; a settings file is the
	// struct body.
	out = bytes.TrimSpace(out)
	if bytes.HasPrefix(out, []byte("{")) && bytes.HasSuffix(out, []byte("}")) {
		body := out[1 : len(out)-1]
		var b bytes.Buffer
		for _, line := range strings.Split(strings.Trim(string(body), "\n"), "\n") {
			b.WriteString(strings.TrimPrefix(line, "\t"))
			b.WriteByte('\n')
		}
		return b.Bytes(), nil
	}
	return append(out, '\n'), nil
}
