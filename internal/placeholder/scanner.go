// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package placeholder

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// scanner walks SQL text looking for placeholder markers. Quoted sections
// and comments are copied through untouched.
type scanner struct {
	input string
	pos   int
	// nextPos is start of the next char.
	nextPos int
	// char is the rune starting at pos. char is set to 0 when pos reaches the
	// end of input.
	char rune
	// lineNum is the number of the current line of the input.
	lineNum int
	// lineStart is the position of the first char of the current line in the
	// input.
	lineStart int

	delimiters []rune
	backslash  bool

	// copied is the position up to which input has been written to out.
	copied int
	out    strings.Builder
}

func newScanner(input string, opts Options) *scanner {
	s := &scanner{
		input:      input,
		lineNum:    1,
		delimiters: opts.Delimiters,
		backslash:  opts.BackslashEscapes,
	}
	if s.delimiters == nil {
		s.delimiters = []rune{'\'', '"'}
	}
	s.out.Grow(len(input))
	s.advanceChar()
	return s
}

// markerFunc returns the text that replaces the nth (0-indexed) marker.
// typ is the declared type following the marker, if any.
type markerFunc func(n int, typ string) (string, error)

// scan rewrites every marker with the text returned by marker and every
// escaped marker with escape. It returns the number of markers seen.
func (s *scanner) scan(escape string, marker markerFunc) (int, error) {
	n := 0
	for s.pos < len(s.input) {
		if ok, err := s.skipStringLiteral(); err != nil {
			return 0, err
		} else if ok {
			continue
		}
		if ok := s.skipComment(); ok {
			continue
		}
		if s.char != '?' {
			s.advanceChar()
			continue
		}

		start, line, col := s.pos, s.lineNum, s.colNum()
		s.advanceChar()
		if s.skipChar('?') {
			s.replace(start, escape)
			continue
		}
		typ := s.parseCast()
		repl, err := marker(n, typ)
		if err != nil {
			return 0, errorAt(err, line, col, s.input)
		}
		s.replace(start, repl)
		n++
	}
	s.out.WriteString(s.input[s.copied:])
	return n, nil
}

// replace writes the input preceding start followed by repl, and skips the
// input up to the current position.
func (s *scanner) replace(start int, repl string) {
	s.out.WriteString(s.input[s.copied:start])
	s.out.WriteString(repl)
	s.copied = s.pos
}

// parseCast consumes a "::type" suffix and returns the type name. If there
// is no suffix the scanner is left unchanged.
func (s *scanner) parseCast() string {
	cp := s.save()
	if !s.skipChar(':') || !s.skipChar(':') {
		cp.restore()
		return ""
	}
	mark := s.pos
	if !s.skipName() {
		cp.restore()
		return ""
	}
	return s.input[mark:s.pos]
}

// colNum calculates the current column number taking into account line breaks.
func (s *scanner) colNum() int {
	return s.pos - s.lineStart + 1
}

// advanceChar moves the scanner to the next character in the input. It also
// takes care of updating the line and column numbers if it encounters line
// breaks.
func (s *scanner) advanceChar() bool {
	if s.nextPos >= len(s.input) {
		s.char = 0
		s.pos = s.nextPos
		return false
	}
	if s.char == '\n' {
		s.lineStart = s.nextPos
		s.lineNum++
	}
	var size int
	s.char, size = utf8.DecodeRuneInString(s.input[s.nextPos:])
	s.pos = s.nextPos
	s.nextPos += size
	return true
}

// errorAt wraps an error with line and column information.
func errorAt(err error, line int, column int, input string) error {
	if strings.ContainsRune(input, '\n') {
		return fmt.Errorf("line %d, column %d: %w", line, column, err)
	}
	return fmt.Errorf("column %d: %w", column, err)
}

type checkpoint struct {
	scanner   *scanner
	pos       int
	nextPos   int
	char      rune
	lineNum   int
	lineStart int
}

func (s *scanner) save() *checkpoint {
	return &checkpoint{
		scanner:   s,
		pos:       s.pos,
		nextPos:   s.nextPos,
		char:      s.char,
		lineNum:   s.lineNum,
		lineStart: s.lineStart,
	}
}

func (cp *checkpoint) restore() {
	cp.scanner.pos = cp.pos
	cp.scanner.nextPos = cp.nextPos
	cp.scanner.char = cp.char
	cp.scanner.lineNum = cp.lineNum
	cp.scanner.lineStart = cp.lineStart
}

// skipComment jumps over -- and /* */ comments. If no comment is found the
// scanner is left unchanged.
func (s *scanner) skipComment() bool {
	cp := s.save()
	c := s.char
	if s.skipChar('-') || s.skipChar('/') {
		if (c == '-' && s.skipChar('-')) || (c == '/' && s.skipChar('*')) {
			var end rune
			if c == '-' {
				end = '\n'
			} else {
				end = '*'
			}
			for s.pos < len(s.input) {
				if s.char == end {
					// A -- comment leaves the newline in place.
					if end == '*' {
						s.advanceChar()
						if !s.skipChar('/') {
							continue
						}
					}
					return true
				}
				s.advanceChar()
			}
			// Reached end of input (valid comment end).
			return true
		}
		cp.restore()
		return false
	}
	return false
}

// skipStringLiteral jumps over a section quoted with one of the dialect's
// delimiters. Doubled up quotes are escaped, as is any character after a
// backslash when the dialect uses backslash escapes.
func (s *scanner) skipStringLiteral() (bool, error) {
	if !s.isDelimiter(s.char) {
		return false, nil
	}
	cp := s.save()
	line, col := s.lineNum, s.colNum()
	quote := s.char
	s.advanceChar()
	for s.pos < len(s.input) {
		switch {
		case s.backslash && s.char == '\\':
			s.advanceChar()
			s.advanceChar()
		case s.char == quote:
			s.advanceChar()
			if !s.skipChar(quote) {
				return true, nil
			}
		default:
			s.advanceChar()
		}
	}
	cp.restore()
	return false, errorAt(fmt.Errorf("missing closing quote in string literal"), line, col, s.input)
}

func (s *scanner) isDelimiter(c rune) bool {
	if s.pos >= len(s.input) {
		return false
	}
	for _, d := range s.delimiters {
		if c == d {
			return true
		}
	}
	return false
}

// skipChar jumps over the current char if it matches the char passed as a
// parameter. Returns true in that case, false otherwise.
func (s *scanner) skipChar(c rune) bool {
	if s.pos < len(s.input) && s.char == c {
		s.advanceChar()
		return true
	}
	return false
}

func isNameChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

func isInitialNameChar(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

// skipName advances the scanner until it is on the first non name char and
// returns true. If the scanner does not start on a name char it returns false.
func (s *scanner) skipName() bool {
	if s.pos >= len(s.input) {
		return false
	}
	mark := s.pos
	if isInitialNameChar(s.char) {
		s.advanceChar()
		for s.pos < len(s.input) && isNameChar(s.char) {
			s.advanceChar()
		}
	}
	return s.pos > mark
}
