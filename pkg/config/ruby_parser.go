package config

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// The settings file is a small subset of Ruby: require directives and
// top-level assignments of literals, one statement per line or separated
// by semicolons.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNewline
	tokIdent
	tokString
	tokSymbol
	tokInt
	tokAssign
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of file"
	case tokNewline:
		return "end of line"
	case tokIdent:
		return "identifier"
	case tokString:
		return "string"
	case tokSymbol:
		return "symbol"
	case tokInt:
		return "integer"
	case tokAssign:
		return "'='"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	}
	return "token"
}

type token struct {
	kind tokenKind
	text string
	line int
	col  int
}

type rubyLexer struct {
	file string
	src  string
	pos  int
	line int
	col  int
}

func newRubyLexer(file, src string) *rubyLexer {
	return &rubyLexer{file: file, src: src, line: 1, col: 1}
}

func (lx *rubyLexer) errorf(line, col int, format string, args ...interface{}) error {
	return &SyntaxError{File: lx.file, Line: line, Column: col, Message: fmt.Sprintf(format, args...)}
}

func (lx *rubyLexer) peekRune() (rune, int) {
	if lx.pos >= len(lx.src) {
		return 0, 0
	}
	return utf8.DecodeRuneInString(lx.src[lx.pos:])
}

func (lx *rubyLexer) advance(size int, r rune) {
	lx.pos += size
	if r == '\n' {
		lx.line++
		lx.col = 1
	} else {
		lx.col++
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// next returns the next token, skipping blanks and comments.
func (lx *rubyLexer) next() (token, error) {
	for {
		r, size := lx.peekRune()
		if size == 0 {
			return token{kind: tokEOF, line: lx.line, col: lx.col}, nil
		}
		switch {
		case r == ' ' || r == '\t' || r == '\r':
			lx.advance(size, r)
		case r == '\\' && strings.HasPrefix(lx.src[lx.pos:], "\\\n"):
			// line continuation
			lx.advance(1, r)
			lx.advance(1, '\n')
		case r == '#':
			for {
				r, size = lx.peekRune()
				if size == 0 || r == '\n' {
					break
				}
				lx.advance(size, r)
			}
		default:
			return lx.scan()
		}
	}
}

func (lx *rubyLexer) scan() (token, error) {
	line, col := lx.line, lx.col
	r, size := lx.peekRune()

	switch {
	case r == '\n' || r == ';':
		lx.advance(size, r)
		return token{kind: tokNewline, line: line, col: col}, nil
	case r == '=':
		lx.advance(size, r)
		if next, _ := lx.peekRune(); next == '=' || next == '~' || next == '>' {
			return token{}, lx.errorf(line, col, "unsupported operator %q", "="+string(next))
		}
		return token{kind: tokAssign, text: "=", line: line, col: col}, nil
	case r == '(':
		lx.advance(size, r)
		return token{kind: tokLParen, text: "(", line: line, col: col}, nil
	case r == ')':
		lx.advance(size, r)
		return token{kind: tokRParen, text: ")", line: line, col: col}, nil
	case r == '"':
		return lx.scanDoubleQuoted(line, col)
	case r == '\'':
		return lx.scanSingleQuoted(line, col)
	case r == ':':
		lx.advance(size, r)
		next, nsize := lx.peekRune()
		if next == '"' {
			tok, err := lx.scanDoubleQuoted(line, col+1)
			if err != nil {
				return token{}, err
			}
			return token{kind: tokSymbol, text: tok.text, line: line, col: col}, nil
		}
		if nsize == 0 || !isIdentStart(next) {
			return token{}, lx.errorf(line, col, "expected symbol name after ':'")
		}
		name := lx.scanIdent()
		return token{kind: tokSymbol, text: name, line: line, col: col}, nil
	case isIdentStart(r):
		name := lx.scanIdent()
		return token{kind: tokIdent, text: name, line: line, col: col}, nil
	case r == '-' || unicode.IsDigit(r):
		return lx.scanInt(line, col)
	}

	return token{}, lx.errorf(line, col, "unexpected character %q", r)
}

func (lx *rubyLexer) scanIdent() string {
	start := lx.pos
	for {
		r, size := lx.peekRune()
		if size == 0 || !isIdentPart(r) {
			break
		}
		lx.advance(size, r)
	}
	// Ruby method names may end in ? or !
	if r, size := lx.peekRune(); r == '?' || r == '!' {
		lx.advance(size, r)
	}
	return lx.src[start:lx.pos]
}

func (lx *rubyLexer) scanInt(line, col int) (token, error) {
	start := lx.pos
	if r, size := lx.peekRune(); r == '-' {
		lx.advance(size, r)
	}
	digits := 0
	for {
		r, size := lx.peekRune()
		if size == 0 || !(unicode.IsDigit(r) || r == '_') {
			break
		}
		lx.advance(size, r)
		digits++
	}
	if digits == 0 {
		return token{}, lx.errorf(line, col, "unexpected character '-'")
	}
	text := strings.ReplaceAll(lx.src[start:lx.pos], "_", "")
	return token{kind: tokInt, text: text, line: line, col: col}, nil
}

func (lx *rubyLexer) scanDoubleQuoted(line, col int) (token, error) {
	lx.advance(1, '"')
	var sb strings.Builder
	for {
		r, size := lx.peekRune()
		if size == 0 || r == '\n' {
			return token{}, lx.errorf(line, col, "unterminated string")
		}
		lx.advance(size, r)
		switch r {
		case '"':
			return token{kind: tokString, text: sb.String(), line: line, col: col}, nil
		case '#':
			if next, _ := lx.peekRune(); next == '{' {
				return token{}, lx.errorf(lx.line, lx.col-1, "string interpolation is not supported")
			}
			sb.WriteRune(r)
		case '\\':
			esc, esize := lx.peekRune()
			if esize == 0 {
				return token{}, lx.errorf(line, col, "unterminated string")
			}
			lx.advance(esize, esc)
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '0':
				sb.WriteByte(0)
			case 's':
				sb.WriteByte(' ')
			default:
				sb.WriteRune(esc)
			}
		default:
			sb.WriteRune(r)
		}
	}
}

func (lx *rubyLexer) scanSingleQuoted(line, col int) (token, error) {
	lx.advance(1, '\'')
	var sb strings.Builder
	for {
		r, size := lx.peekRune()
		if size == 0 || r == '\n' {
			return token{}, lx.errorf(line, col, "unterminated string")
		}
		lx.advance(size, r)
		switch r {
		case '\'':
			return token{kind: tokString, text: sb.String(), line: line, col: col}, nil
		case '\\':
			esc, esize := lx.peekRune()
			if esc == '\'' || esc == '\\' {
				lx.advance(esize, esc)
				sb.WriteRune(esc)
			} else {
				sb.WriteRune(r)
			}
		default:
			sb.WriteRune(r)
		}
	}
}

// assignment is one key/value pair read from a settings source.
type assignment struct {
	key    string
	value  Value
	line   int
	column int
}

// statements is the format-neutral result of reading a settings source.
type statements struct {
	assignments []assignment
	requires    []string
}

type rubyParser struct {
	lx  *rubyLexer
	tok token
}

// ParseRuby parses a Ruby settings file into a record without validating
// or defaulting it. Unknown keys and duplicates are warning diagnostics.
func ParseRuby(name, src string) (*LoadedConfig, error) {
	st, err := parseRubyStatements(name, src)
	if err != nil {
		return nil, err
	}

	lc := (&Loader{}).assemble(name, st)
	lc.Format = FormatRuby
	lc.Digest = Digest([]byte(src))
	return lc, nil
}

// parseRubyStatements reads the require directives and assignments of a
// Ruby settings file.
func parseRubyStatements(file, src string) (*statements, error) {
	p := &rubyParser{lx: newRubyLexer(file, src)}
	if err := p.advance(); err != nil {
		return nil, err
	}

	out := &statements{}
	for p.tok.kind != tokEOF {
		if p.tok.kind == tokNewline {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		if err := p.statement(out); err != nil {
			return nil, err
		}
		switch p.tok.kind {
		case tokNewline:
			if err := p.advance(); err != nil {
				return nil, err
			}
		case tokEOF:
		default:
			return nil, p.unexpected("end of statement")
		}
	}
	return out, nil
}

func (p *rubyParser) advance() error {
	tok, err := p.lx.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

func (p *rubyParser) unexpected(want string) error {
	got := p.tok.kind.String()
	if p.tok.text != "" {
		got = fmt.Sprintf("%s %q", got, p.tok.text)
	}
	return p.lx.errorf(p.tok.line, p.tok.col, "expected %s, found %s", want, got)
}

func (p *rubyParser) statement(out *statements) error {
	if p.tok.kind != tokIdent {
		return p.unexpected("identifier")
	}
	name := p.tok

	if name.text == "require" {
		if err := p.advance(); err != nil {
			return err
		}
		return p.require(out)
	}

	if err := p.advance(); err != nil {
		return err
	}
	if p.tok.kind != tokAssign {
		return p.unexpected("'='")
	}
	if err := p.advance(); err != nil {
		return err
	}
	val, err := p.value()
	if err != nil {
		return err
	}
	out.assignments = append(out.assignments, assignment{
		key:    name.text,
		value:  val,
		line:   name.line,
		column: name.col,
	})
	return nil
}

func (p *rubyParser) require(out *statements) error {
	paren := p.tok.kind == tokLParen
	if paren {
		if err := p.advance(); err != nil {
			return err
		}
	}
	if p.tok.kind != tokString {
		return p.unexpected("plugin name string")
	}
	out.requires = append(out.requires, p.tok.text)
	if err := p.advance(); err != nil {
		return err
	}
	if paren {
		if p.tok.kind != tokRParen {
			return p.unexpected("')'")
		}
		return p.advance()
	}
	return nil
}

func (p *rubyParser) value() (Value, error) {
	tok := p.tok
	var v Value
	switch tok.kind {
	case tokString:
		v = StringValue(tok.text)
	case tokSymbol:
		v = SymbolValue(tok.text)
	case tokInt:
		n, err := strconv.ParseInt(tok.text, 10, 64)
		if err != nil {
			return Value{}, p.lx.errorf(tok.line, tok.col, "invalid integer %q", tok.text)
		}
		v = Value{Kind: ValueInt, Int: n}
	case tokIdent:
		switch tok.text {
		case "true":
			v = BoolValue(true)
		case "false":
			v = BoolValue(false)
		case "nil":
			v = Value{Kind: ValueNil}
		default:
			return Value{}, p.lx.errorf(tok.line, tok.col, "expressions are not supported: %q", tok.text)
		}
	default:
		return Value{}, p.unexpected("literal value")
	}
	if err := p.advance(); err != nil {
		return Value{}, err
	}
	return v, nil
}
