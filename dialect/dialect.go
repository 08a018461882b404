// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dialect holds the per-database functions the SQL writer consumes:
// identifier quoting, literal escaping, placeholder tokens and the string
// delimiters the placeholder scanner must skip.
package dialect

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
)

// Names of the supported dialects.
const (
	NameGeneric  = "generic"
	NamePostgres = "postgres"
	NameMySQL    = "mysql"
	NameSQLite   = "sqlite"
)

// LikeEscape is the escape character used for LIKE patterns built from
// spliced values. It is not special in any supported dialect's string
// literals.
const LikeEscape = '!'

// Dialect describes how a database spells the parts of a statement that
// differ between vendors.
type Dialect interface {
	// Name returns one of the Name* constants.
	Name() string
	// QuoteIdentifier quotes a single identifier part.
	QuoteIdentifier(name string) string
	// QuoteLiteral renders s as a string literal.
	QuoteLiteral(s string) string
	// QuoteBlob renders b as a binary literal.
	QuoteBlob(b []byte) string
	// EscapeLike escapes the LIKE wildcards in s using LikeEscape.
	EscapeLike(s string) string
	// Placeholder returns the bind token for the nth (1-indexed) argument.
	Placeholder(n int) string
	// StringDelimiters lists the quote characters that open a literal or
	// quoted identifier.
	StringDelimiters() []rune
	// BackslashEscapes reports whether a backslash escapes the next
	// character inside a quoted string.
	BackslashEscapes() bool
}

// Lookup returns the dialect registered under name. Driver names are
// accepted as aliases.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case NameGeneric, "":
		return Generic, nil
	case NamePostgres, "postgresql", "pgx":
		return Postgres, nil
	case NameMySQL:
		return MySQL, nil
	case NameSQLite, "sqlite3":
		return SQLite, nil
	}
	return nil, fmt.Errorf("unknown dialect %q", name)
}

// IsolationStatement returns the statement that changes the isolation level
// of the running transaction.
func IsolationStatement(d Dialect, level sql.IsolationLevel) (string, error) {
	var name string
	switch level {
	case sql.LevelReadUncommitted:
		name = "READ UNCOMMITTED"
	case sql.LevelReadCommitted:
		name = "READ COMMITTED"
	case sql.LevelRepeatableRead:
		name = "REPEATABLE READ"
	case sql.LevelSerializable:
		name = "SERIALIZABLE"
	default:
		return "", fmt.Errorf("isolation level %q not supported", level)
	}
	if d.Name() == NameSQLite {
		return "", fmt.Errorf("%s: cannot change isolation level inside a transaction", d.Name())
	}
	return "SET TRANSACTION ISOLATION LEVEL " + name, nil
}

// Generic is plain SQL-92: double quoted identifiers, single quoted
// literals and ? placeholders.
var Generic Dialect = generic{}

type generic struct{}

func (generic) Name() string { return NameGeneric }

func (generic) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (generic) QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (generic) QuoteBlob(b []byte) string {
	return "X'" + strings.ToUpper(hex.EncodeToString(b)) + "'"
}

func (generic) EscapeLike(s string) string {
	return escapeLike(s)
}

func (generic) Placeholder(int) string { return "?" }

func (generic) StringDelimiters() []rune { return []rune{'\'', '"'} }

func (generic) BackslashEscapes() bool { return false }

func escapeLike(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range s {
		switch c {
		case '%', '_', LikeEscape:
			b.WriteRune(LikeEscape)
		}
		b.WriteRune(c)
	}
	return b.String()
}
