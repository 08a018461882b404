// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

// postgresWriter renders PostgreSQL.
type postgresWriter struct {
	*baseWriter
}

var _ formatter = (*postgresWriter)(nil)

func (w *postgresWriter) tautology() string {
	return "TRUE"
}

// like uses ILIKE for case insensitive matches.
func (w *postgresWriter) like(l Like) (string, error) {
	expr, marker, escape, err := w.likeParts(l)
	if err != nil {
		return "", err
	}
	op := "LIKE"
	if !l.CaseSensitive {
		op = "ILIKE"
	}
	if l.Not {
		op = "NOT " + op
	}
	return expr + " " + op + " " + marker + escape, nil
}

// cast uses the :: operator. Anything but a column is parenthesised, which
// also keeps a bound value from reading as a typed marker.
func (w *postgresWriter) cast(c Cast) (string, error) {
	expr, err := w.castType(c)
	if err != nil {
		return "", err
	}
	if _, ok := c.Expr.(Column); ok {
		return expr + "::" + c.Type, nil
	}
	return "(" + expr + ")::" + c.Type, nil
}

func (w *postgresWriter) mergeStmt(s *Merge) (string, error) {
	return w.onConflict(s, true, nil)
}
