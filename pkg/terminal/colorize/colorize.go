// Package colorize prints source listings with line numbers, an arrow on
// the current line and, for C and C++ files, syntax highlighting.
package colorize

import (
	"fmt"
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"
)

// Style describes the style of a chunk of text.
type Style uint8

const (
	NormalStyle Style = iota
	KeywordStyle
	StringStyle
	NumberStyle
	CommentStyle
	LineNoStyle
	ArrowStyle
	TabStyle
)

var cExtensions = map[string]bool{
	".c": true, ".h": true,
	".cc": true, ".cpp": true, ".cxx": true, ".c++": true,
	".hh": true, ".hpp": true, ".hxx": true,
}

// Print prints to out a syntax highlighted version of the text read from
// reader, between lines startLine and endLine.
func Print(out io.Writer, path string, reader io.Reader, startLine, endLine, arrowLine int, colorEscapes map[Style]string, altTabStr string) error {
	buf, err := ioutil.ReadAll(reader)
	if err != nil {
		return err
	}

	w := &lineWriter{
		w:            out,
		lineRange:    [2]int{startLine, endLine},
		arrowLine:    arrowLine,
		colorEscapes: colorEscapes,
	}
	if len(altTabStr) > 0 {
		w.tabBytes = []byte(altTabStr)
	} else {
		w.tabBytes = []byte("\t")
	}

	if len(buf) == 0 {
		return nil
	}
	if !cExtensions[strings.ToLower(filepath.Ext(path))] {
		w.Write(NormalStyle, buf, true)
		return nil
	}

	toks := tokenize(buf)

	flush := func(start, end int, style Style) {
		if start < end {
			w.Write(style, buf[start:end], end == len(buf))
		}
	}

	cur := 0
	for _, tok := range toks {
		flush(cur, tok.start, NormalStyle)
		flush(tok.start, tok.end, tok.style)
		cur = tok.end
	}
	if cur != len(buf) {
		flush(cur, len(buf), NormalStyle)
	}

	return nil
}

var keywords = map[string]bool{
	"auto": true, "break": true, "case": true, "char": true, "const": true,
	"continue": true, "default": true, "do": true, "double": true, "else": true,
	"enum": true, "extern": true, "float": true, "for": true, "goto": true,
	"if": true, "inline": true, "int": true, "long": true, "register": true,
	"restrict": true, "return": true, "short": true, "signed": true, "sizeof": true,
	"static": true, "struct": true, "switch": true, "typedef": true, "union": true,
	"unsigned": true, "void": true, "volatile": true, "while": true, "bool": true,
	"_Bool": true, "true": true, "false": true, "NULL": true,

	"class": true, "namespace": true, "template": true, "typename": true, "public": true,
	"private": true, "protected": true, "virtual": true, "override": true, "new": true,
	"delete": true, "this": true, "using": true, "try": true, "catch": true,
	"throw": true, "operator": true, "friend": true, "nullptr": true, "constexpr": true,
	"static_cast": true, "dynamic_cast": true, "reinterpret_cast": true, "const_cast": true,
	"explicit": true, "mutable": true, "noexcept": true,
}

type colorTok struct {
	style      Style
	start, end int // start and end positions of the token
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// tokenize returns the highlighted tokens of a C or C++ source, in order.
// Preprocessor directives are highlighted as keywords.
func tokenize(buf []byte) []colorTok {
	var toks []colorTok
	lineStart := true
	for i := 0; i < len(buf); {
		c := buf[i]
		switch {
		case c == '\n':
			lineStart = true
			i++
			continue
		case c == ' ' || c == '\t' || c == '\r':
			i++
			continue
		}

		start := i
		switch {
		case c == '/' && i+1 < len(buf) && buf[i+1] == '/':
			for i < len(buf) && buf[i] != '\n' {
				i++
			}
			toks = append(toks, colorTok{CommentStyle, start, i})
		case c == '/' && i+1 < len(buf) && buf[i+1] == '*':
			i += 2
			for i < len(buf) && !(buf[i] == '*' && i+1 < len(buf) && buf[i+1] == '/') {
				i++
			}
			i += 2
			if i > len(buf) {
				i = len(buf)
			}
			toks = append(toks, colorTok{CommentStyle, start, i})
		case c == '"' || c == '\'':
			i++
			for i < len(buf) && buf[i] != c && buf[i] != '\n' {
				if buf[i] == '\\' {
					i++
				}
				i++
			}
			if i < len(buf) && buf[i] == c {
				i++
			}
			if i > len(buf) {
				i = len(buf)
			}
			toks = append(toks, colorTok{StringStyle, start, i})
		case c == '#' && lineStart:
			i++
			for i < len(buf) && (buf[i] == ' ' || buf[i] == '\t') {
				i++
			}
			for i < len(buf) && isIdent(buf[i]) {
				i++
			}
			toks = append(toks, colorTok{KeywordStyle, start, i})
		case isDigit(c) || (c == '.' && i+1 < len(buf) && isDigit(buf[i+1])):
			for i < len(buf) && (isIdent(buf[i]) || buf[i] == '.' || buf[i] == '\'') {
				i++
			}
			toks = append(toks, colorTok{NumberStyle, start, i})
		case isIdentStart(c):
			for i < len(buf) && isIdent(buf[i]) {
				i++
			}
			if keywords[string(buf[start:i])] {
				toks = append(toks, colorTok{KeywordStyle, start, i})
			}
		default:
			i++
		}
		lineStart = false
	}
	return toks
}

type lineWriter struct {
	w         io.Writer
	lineRange [2]int
	arrowLine int

	curStyle Style
	started  bool
	lineno   int

	colorEscapes map[Style]string

	tabBytes []byte
}

func (w *lineWriter) style(style Style) {
	if w.colorEscapes == nil {
		return
	}
	esc := w.colorEscapes[style]
	if esc == "" {
		esc = w.colorEscapes[NormalStyle]
	}
	fmt.Fprintf(w.w, "%s", esc)
}

func (w *lineWriter) inrange() bool {
	lno := w.lineno
	if !w.started {
		lno = w.lineno + 1
	}
	return lno >= w.lineRange[0] && lno < w.lineRange[1]
}

func (w *lineWriter) nl() {
	w.lineno++
	if !w.inrange() || !w.started {
		return
	}
	w.style(ArrowStyle)
	if w.lineno == w.arrowLine {
		fmt.Fprintf(w.w, "=>")
	} else {
		fmt.Fprintf(w.w, "  ")
	}
	w.style(LineNoStyle)
	fmt.Fprintf(w.w, "%4d:\t", w.lineno)
	w.style(w.curStyle)
}

func (w *lineWriter) writeInternal(style Style, data []byte) {
	if !w.inrange() {
		return
	}

	if !w.started {
		w.started = true
		w.curStyle = style
		w.nl()
	} else if w.curStyle != style {
		w.curStyle = style
		w.style(w.curStyle)
	}

	w.w.Write(data)
}

func (w *lineWriter) Write(style Style, data []byte, last bool) {
	cur := 0
	for i := range data {
		switch data[i] {
		case '\n':
			if last && i == len(data)-1 {
				w.writeInternal(style, data[cur:i])
				if w.curStyle != NormalStyle {
					w.style(NormalStyle)
				}
				if w.inrange() {
					w.w.Write([]byte{'\n'})
				}
				last = false
			} else {
				w.writeInternal(style, data[cur:i+1])
				w.nl()
			}
			cur = i + 1
		case '\t':
			w.writeInternal(style, data[cur:i])
			w.writeInternal(TabStyle, w.tabBytes)
			cur = i + 1
		}
	}
	if cur < len(data) {
		w.writeInternal(style, data[cur:])
	}
	if last {
		if w.curStyle != NormalStyle {
			w.style(NormalStyle)
		}
		if w.inrange() {
			w.w.Write([]byte{'\n'})
		}
	}
}
