// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package dialect

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// Postgres quotes through lib/pq and binds with $N placeholders.
var Postgres Dialect = postgres{}

type postgres struct{ generic }

func (postgres) Name() string { return NamePostgres }

func (postgres) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// QuoteLiteral may return an E'' string with a leading space when s
// contains a backslash.
func (postgres) QuoteLiteral(s string) string {
	return pq.QuoteLiteral(s)
}

func (postgres) QuoteBlob(b []byte) string {
	return `'\x` + hex.EncodeToString(b) + `'::bytea`
}

func (postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// MySQL uses backtick identifiers and backslash escapes in literals.
var MySQL Dialect = mysql{}

type mysql struct{ generic }

func (mysql) Name() string { return NameMySQL }

func (mysql) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var mysqlLiteralReplacer = strings.NewReplacer(
	`\`, `\\`,
	"'", `\'`,
	"\x00", `\0`,
	"\n", `\n`,
	"\r", `\r`,
	"\x1a", `\Z`,
)

func (mysql) QuoteLiteral(s string) string {
	return "'" + mysqlLiteralReplacer.Replace(s) + "'"
}

func (mysql) StringDelimiters() []rune { return []rune{'\'', '"', '`'} }

func (mysql) BackslashEscapes() bool { return true }

// SQLite follows the generic rules and also accepts backtick identifiers.
var SQLite Dialect = sqlite{}

type sqlite struct{ generic }

func (sqlite) Name() string { return NameSQLite }

func (sqlite) StringDelimiters() []rune { return []rune{'\'', '"', '`'} }
