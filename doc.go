/*
Package sqlcompose builds SQL statements from Go values and compiles them
for a target database.

Statements are assembled with fluent builders and compiled into a SQL
string plus an ordered list of bound arguments. The same statement can be
compiled for generic SQL, PostgreSQL, MySQL or SQLite; each dialect decides
quoting, placeholder tokens and the syntax of features such as upserts,
joined updates and NULL ordering.

# Building

	stmt := sqlcompose.NewSelect("p.id", "p.name").
		From("person p").
		InnerJoin("address a", sqlcompose.On("a.id", "=", "p.address_id")).
		Where("a.district", "=", []string{"Happy Land", "Sad World"}).
		Where("p.deleted_at", "=", nil).
		OrderBy("p.name", sqlcompose.Asc).
		Limit(10)

Strings in column positions are column references, and anything else in a
value position is bound as an argument. Comparing with a slice becomes IN,
comparing with nil becomes IS NULL.

Builders never return errors directly. The first invalid call is recorded,
later calls are ignored, and the error is returned by Err and by Compile.

# Conditions

A [Where] is a tree of conditions. Groups are nested either with a
callable:

	w := sqlcompose.NewWhere().
		Eq("team", "db").
		Group(sqlcompose.Or, func(w *sqlcompose.Where) {
			w.Eq("role", "lead").Cond("age", ">", 40)
		})

or with the Open and Close pair, which keep a stack of open groups:

	w := sqlcompose.NewWhere().Eq("team", "db").
		Open(sqlcompose.Or).Eq("role", "lead").Cond("age", ">", 40).Close()

# Raw SQL

Raw fragments are opaque. Each ? binds the argument at the same position, ??
is a literal question mark and ?::type declares the argument's type:

	sqlcompose.RawSQL("data @?? ?::jsonpath", path)

An argument that is itself a statement, such as a *Select, is formatted in
place.

# Compiling

	c, err := sqlcompose.Compile(stmt, dialect.Postgres)
	rows, err := db.QueryContext(ctx, c.SQL(), c.Args()...)

# Connections and transactions

A [Conn] wraps a *sql.Conn. It compiles statements for its dialect, caches
their prepared statements and tracks the pending transaction. Nested Begin
calls and [TX.Savepoint] create savepoints, which must be ended innermost
first.
*/
package sqlcompose
