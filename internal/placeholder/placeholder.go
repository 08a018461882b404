// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package placeholder reconciles ? markers in SQL text with bound
// arguments.
//
// A marker is a bare ? optionally followed by a declared type, as in
// ?::date. A doubled ?? is an escaped, literal question mark. Markers inside
// quoted sections and comments are ignored.
//
// Compilation runs two passes. Expand is run on each raw fragment and binds
// the fragment's own arguments, keeping escapes doubled so the text can be
// spliced into a larger statement. Rewrite is run once on the finished
// statement, turning markers into the dialect's bind token and escapes into
// a literal ?.
package placeholder

import (
	"errors"
	"fmt"
)

// ErrArgumentCount is returned when the number of markers does not match
// the number of arguments.
var ErrArgumentCount = errors.New("argument count mismatch")

// Options describe the quoting rules of the SQL text.
type Options struct {
	// Delimiters are the characters opening a quoted section. Defaults to
	// single and double quotes.
	Delimiters []rune
	// BackslashEscapes is set when a backslash escapes the next character
	// inside a quoted section.
	BackslashEscapes bool
}

// BindFunc binds the nth (0-indexed) marker of a fragment. It returns the
// text that takes the marker's place.
type BindFunc func(n int, typ string) (string, error)

// Count returns the number of markers in input.
func Count(input string, opts Options) (int, error) {
	s := newScanner(input, opts)
	return s.scan("??", func(int, string) (string, error) { return "?", nil })
}

// Expand replaces each marker in input with the text returned by bind. The
// fragment must contain exactly nargs markers.
func Expand(input string, opts Options, nargs int, bind BindFunc) (out string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot bind arguments: %w", err)
		}
	}()

	n, err := Count(input, opts)
	if err != nil {
		return "", err
	}
	if n != nargs {
		return "", fmt.Errorf("%w: %d placeholders in %q, %d arguments supplied", ErrArgumentCount, n, input, nargs)
	}

	s := newScanner(input, opts)
	if _, err := s.scan("??", markerFunc(bind)); err != nil {
		return "", err
	}
	return s.out.String(), nil
}

// Rewrite converts the markers of a complete statement into the tokens
// returned by token, which receives the 1-indexed position. Declared types
// are dropped. The statement must contain exactly want markers.
func Rewrite(input string, opts Options, want int, token func(n int) string) (out string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot rewrite placeholders: %w", err)
		}
	}()

	s := newScanner(input, opts)
	n, err := s.scan("?", func(n int, _ string) (string, error) {
		return token(n + 1), nil
	})
	if err != nil {
		return "", err
	}
	if n != want {
		return "", fmt.Errorf("%w: %d placeholders, %d arguments", ErrArgumentCount, n, want)
	}
	return s.out.String(), nil
}
