// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

// Statement is anything Compile accepts: *Select, *Insert, *Update,
// *Delete, *Merge or Raw.
type Statement interface {
	// Err returns the first error raised while building the statement.
	Err() error
	// ID returns the identifier set with SetID, or "" if none was set.
	ID() string
	statement()
}

func (*Select) statement() {}
func (*Insert) statement() {}
func (*Update) statement() {}
func (*Delete) statement() {}
func (*Merge) statement()  {}
func (Raw) statement()     {}

// Err returns an error if the fragment is empty.
func (r Raw) Err() error {
	_, err := checkExpr(r)
	return err
}

// ID is always empty for raw statements.
func (Raw) ID() string {
	return ""
}

// JoinMode is the kind of a JOIN.
type JoinMode int

const (
	JoinInner JoinMode = iota
	JoinLeft
	JoinRight
	JoinNatural
)

var joinModeSQL = map[JoinMode]string{
	JoinInner:   "INNER JOIN",
	JoinLeft:    "LEFT JOIN",
	JoinRight:   "RIGHT JOIN",
	JoinNatural: "NATURAL JOIN",
}

func (m JoinMode) String() string {
	if s, ok := joinModeSQL[m]; ok {
		return s
	}
	return "INVALID JOIN"
}

type join struct {
	mode  JoinMode
	table Expression
	on    *Where
}

type with struct {
	name      string
	sub       *Select
	recursive bool
}

// clauses holds the state shared by every statement type.
type clauses struct {
	with  []with
	joins []*join
	id    string
	err   error
}

func (c *clauses) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// ID returns the identifier set with SetID.
func (c *clauses) ID() string {
	return c.id
}

func (c *clauses) setID(id string) {
	if c.err != nil {
		return
	}
	if id == "" {
		c.fail(buildError("empty statement id"))
		return
	}
	c.id = id
}

func (c *clauses) addWith(name string, sub *Select, recursive bool) {
	if c.err != nil {
		return
	}
	if name == "" {
		c.fail(buildError("WITH entry needs a name"))
		return
	}
	if _, err := checkExpr(sub); err != nil {
		c.fail(err)
		return
	}
	c.with = append(c.with, with{name: name, sub: sub, recursive: recursive})
}

func (c *clauses) addJoin(mode JoinMode, table any, on *Where) {
	if c.err != nil {
		return
	}
	if _, ok := joinModeSQL[mode]; !ok {
		c.fail(buildError("invalid join mode %d", mode))
		return
	}
	t, err := tableExpr(table)
	if err != nil {
		c.fail(err)
		return
	}
	if on != nil {
		if err := on.complete(); err != nil {
			c.fail(err)
			return
		}
		if mode == JoinNatural && on.Len() > 0 {
			c.fail(buildError("natural join of %v cannot have a join condition", table))
			return
		}
	}
	c.joins = append(c.joins, &join{mode: mode, table: t, on: on})
}

// check returns the first error of the shared clauses.
func (c *clauses) check() error {
	if c.err != nil {
		return c.err
	}
	for _, j := range c.joins {
		if err := j.on.Err(); err != nil {
			return err
		}
	}
	for _, w := range c.with {
		if err := w.sub.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (c clauses) clone() clauses {
	out := clauses{id: c.id, err: c.err}
	for _, w := range c.with {
		out.with = append(out.with, with{name: w.name, sub: w.sub.Clone(), recursive: w.recursive})
	}
	for _, j := range c.joins {
		out.joins = append(out.joins, &join{mode: j.mode, table: cloneExpr(j.table), on: j.on.Clone()})
	}
	return out
}

// filter is the WHERE clause shared by SELECT, UPDATE and DELETE.
type filter struct {
	where *Where
}

func (f *filter) conditions() *Where {
	if f.where == nil {
		f.where = NewWhere()
	}
	return f.where
}

// whereStep applies fn to the statement's tree and moves any error to the
// statement.
func whereStep(c *clauses, f *filter, fn func(w *Where)) {
	if c.err != nil {
		return
	}
	w := f.conditions()
	fn(w)
	if err := w.Err(); err != nil {
		c.fail(err)
	}
}
