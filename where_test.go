// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose_test

import (
	"errors"

	. "gopkg.in/check.v1"

	sc "github.com/canonical/sqlcompose"
	"github.com/canonical/sqlcompose/dialect"
)

type WhereSuite struct{}

var _ = Suite(&WhereSuite{})

// render compiles w as the condition of a SELECT on t.
func render(c *C, w *sc.Where, d dialect.Dialect) (string, []any) {
	compiled, err := sc.Compile(sc.NewSelect().From("t").WhereExpr(w), d)
	c.Assert(err, IsNil)
	return compiled.SQL(), compiled.Args()
}

func (s *WhereSuite) TestBuildErrors(c *C) {
	tests := []struct {
		summary string
		build   func() *sc.Where
		err     string
	}{{
		summary: "unknown operator",
		build:   func() *sc.Where { return sc.NewWhere().Cond("a", "~", 1) },
		err:     `invalid statement: unsupported operator "~" for column a`,
	}, {
		summary: "ordering against NULL",
		build:   func() *sc.Where { return sc.NewWhere().Cond("a", ">", nil) },
		err:     `invalid statement: cannot compare column a with NULL using >`,
	}, {
		summary: "between with one bound",
		build:   func() *sc.Where { return sc.NewWhere().Cond("a", "between", []int{1}) },
		err:     `invalid statement: BETWEEN on column a needs exactly two bounds, got \[1\]`,
	}, {
		summary: "ordering against a list",
		build:   func() *sc.Where { return sc.NewWhere().Cond("a", "<", []int{1, 2}) },
		err:     `invalid statement: operator < on column a cannot take a list`,
	}, {
		summary: "empty column",
		build:   func() *sc.Where { return sc.NewWhere().Eq("", 1) },
		err:     `invalid statement: empty column name`,
	}, {
		summary: "expression in a column string",
		build:   func() *sc.Where { return sc.NewWhere().Eq("a + b", 1) },
		err:     `invalid statement: cannot parse column "a \+ b", use RawSQL for expressions`,
	}, {
		summary: "column of the wrong type",
		build:   func() *sc.Where { return sc.NewWhere().Eq(42, 1) },
		err:     `invalid statement: cannot use int as a column`,
	}, {
		summary: "close without open",
		build:   func() *sc.Where { return sc.NewWhere().Eq("a", 1).Close() },
		err:     `invalid statement: close without matching open`,
	}, {
		summary: "empty raw condition",
		build:   func() *sc.Where { return sc.NewWhere().Raw("  ") },
		err:     `invalid statement: empty raw expression`,
	}, {
		summary: "nil callable",
		build:   func() *sc.Where { return sc.NewWhere().Group(sc.And, nil) },
		err:     `invalid statement: nil callable`,
	}, {
		summary: "error inside a nested group",
		build: func() *sc.Where {
			return sc.NewWhere().Group(sc.Or, func(w *sc.Where) { w.Cond("a", "??", 1) })
		},
		err: `invalid statement: unsupported operator "\?\?" for column a`,
	}, {
		summary: "group left open inside a callable",
		build: func() *sc.Where {
			return sc.NewWhere().Group(sc.Or, func(w *sc.Where) { w.Open(sc.And).Eq("a", 1) })
		},
		err: `invalid statement: 1 condition groups left open`,
	}}
	for i, t := range tests {
		c.Logf("test %d: %s", i, t.summary)
		err := t.build().Err()
		c.Assert(err, ErrorMatches, t.err)
		c.Check(errors.Is(err, sc.ErrInvalidStatement), Equals, true)
	}
}

func (s *WhereSuite) TestFirstErrorWins(c *C) {
	w := sc.NewWhere().Eq("a", 1).Cond("b", "~", 2).Cond("c", "%%", 3).Eq("d", 4)
	c.Assert(w.Err(), ErrorMatches, `invalid statement: unsupported operator "~" for column b`)
	c.Check(w.Len(), Equals, 1)
}

func (s *WhereSuite) TestStatementRecordsConditionError(c *C) {
	stmt := sc.NewSelect().From("t").Where("a", "~", 1).OrderBy("b", sc.Asc).Limit(-1)
	c.Assert(stmt.Err(), ErrorMatches, `invalid statement: unsupported operator "~" for column a`)
}

func (s *WhereSuite) TestOperatorNormalization(c *C) {
	w := sc.NewWhere().Cond("a", "not  in", []int{1}).Cond("b", "is not", nil).Cond("c", "like", "x%")
	sql, args := render(c, w, dialect.Generic)
	c.Check(sql, Equals, `SELECT * FROM "t" WHERE ("a" NOT IN (?) AND "b" IS NOT NULL AND "c" LIKE ?)`)
	c.Check(args, DeepEquals, []any{1, "x%"})
}

func (s *WhereSuite) TestOrRoot(c *C) {
	w := sc.NewOrWhere().Eq("a", 1).Eq("b", 2)
	sql, args := render(c, w, dialect.Postgres)
	c.Check(sql, Equals, `SELECT * FROM "t" WHERE ("a" = $1 OR "b" = $2)`)
	c.Check(args, DeepEquals, []any{1, 2})
}

func (s *WhereSuite) TestEmptyWhereIsTautology(c *C) {
	sql, _ := render(c, sc.NewWhere(), dialect.Generic)
	c.Check(sql, Equals, `SELECT * FROM "t" WHERE 1`)
	sql, _ = render(c, sc.NewWhere(), dialect.Postgres)
	c.Check(sql, Equals, `SELECT * FROM "t" WHERE TRUE`)
}

func (s *WhereSuite) TestCallableReturningExpression(c *C) {
	stmt := sc.NewSelect().From("t").Where(func(w *sc.Where) sc.Expression {
		return sc.Fn("LOWER", sc.Col("name"))
	}, "=", "fred")
	compiled, err := sc.Compile(stmt, dialect.Generic)
	c.Assert(err, IsNil)
	c.Check(compiled.SQL(), Equals, `SELECT * FROM "t" WHERE LOWER("name") = ?`)
}

func (s *WhereSuite) TestCallableInValuePosition(c *C) {
	stmt := sc.NewSelect().From("t").Where("flag", "=", func(w *sc.Where) {
		w.Cond("a", ">", 1)
	})
	compiled, err := sc.Compile(stmt, dialect.Generic)
	c.Assert(err, IsNil)
	c.Check(compiled.SQL(), Equals, `SELECT * FROM "t" WHERE "flag" = ("a" > ?)`)
	c.Check(compiled.Args(), DeepEquals, []any{1})
}

func (s *WhereSuite) TestCallableLeavingGroupOpen(c *C) {
	stmt := sc.NewSelect().From("t").Where("flag", "=", func(w *sc.Where) {
		w.Open(sc.And).Eq("a", 1)
	})
	c.Assert(stmt.Err(), ErrorMatches, `invalid statement: 1 condition groups left open`)

	stmt = sc.NewSelect(func(w *sc.Where) sc.Expression {
		w.Open(sc.Or).Eq("a", 1)
		return nil
	}).From("t")
	c.Assert(stmt.Err(), ErrorMatches, `invalid statement: 1 condition groups left open`)
}

func (s *WhereSuite) TestMerge(c *C) {
	other := sc.NewOrWhere().Eq("b", 2).Eq("c", 3)
	w := sc.NewWhere().Eq("a", 1).Merge(other).Merge(nil)
	sql, args := render(c, w, dialect.Generic)
	c.Check(sql, Equals, `SELECT * FROM "t" WHERE ("a" = ? AND ("b" = ? OR "c" = ?))`)
	c.Check(args, DeepEquals, []any{1, 2, 3})

	// The merged copy does not follow later changes.
	other.Eq("d", 4)
	sql, _ = render(c, w, dialect.Generic)
	c.Check(sql, Equals, `SELECT * FROM "t" WHERE ("a" = ? AND ("b" = ? OR "c" = ?))`)
}

func (s *WhereSuite) TestMergeOpenTree(c *C) {
	other := sc.NewWhere().Open(sc.Or).Eq("b", 2)
	w := sc.NewWhere().Merge(other)
	c.Assert(w.Err(), ErrorMatches, `invalid statement: 1 condition groups left open`)
}

func (s *WhereSuite) TestCloneIsIndependent(c *C) {
	w := sc.NewWhere().Eq("a", 1).Open(sc.Or).Eq("b", 2)
	clone := w.Clone()

	// The open group is open in both trees.
	w.Eq("c", 3).Close()
	clone.Eq("d", 4).Close().Eq("e", 5)

	sql, args := render(c, w, dialect.Generic)
	c.Check(sql, Equals, `SELECT * FROM "t" WHERE ("a" = ? AND ("b" = ? OR "c" = ?))`)
	c.Check(args, DeepEquals, []any{1, 2, 3})

	sql, args = render(c, clone, dialect.Generic)
	c.Check(sql, Equals, `SELECT * FROM "t" WHERE ("a" = ? AND ("b" = ? OR "d" = ?) AND "e" = ?)`)
	c.Check(args, DeepEquals, []any{1, 2, 4, 5})
}

func (s *WhereSuite) TestStatementCloneIsIndependent(c *C) {
	base := sc.NewSelect("id").From("person").Where("team", "=", "db")
	clone := base.Clone().Where("age", ">", 30).OrderBy("id", sc.Desc)
	base.Limit(5)

	compiled, err := sc.Compile(base, dialect.Generic)
	c.Assert(err, IsNil)
	c.Check(compiled.SQL(), Equals, `SELECT "id" FROM "person" WHERE "team" = ? LIMIT 5`)

	compiled, err = sc.Compile(clone, dialect.Generic)
	c.Assert(err, IsNil)
	c.Check(compiled.SQL(), Equals, `SELECT "id" FROM "person" WHERE "team" = ? AND "age" > ? ORDER BY "id" DESC`)
	c.Check(compiled.Args(), DeepEquals, []any{"db", 30})
}

func (s *WhereSuite) TestJoinConditionErrors(c *C) {
	stmt := sc.NewSelect().From("a").InnerJoin("b", sc.On("b.id", "~", "a.id"))
	c.Check(stmt.Err(), ErrorMatches, `invalid statement: unsupported operator "~" for column b.id`)

	stmt = sc.NewSelect().From("a").Join(sc.JoinNatural, "b", sc.On("b.id", "=", "a.id"))
	c.Check(stmt.Err(), ErrorMatches, `invalid statement: natural join of b cannot have a join condition`)

	stmt = sc.NewSelect().From(sc.NewSelect().From("b"))
	c.Check(stmt.Err(), ErrorMatches, `invalid statement: sub-select used as a table needs an alias`)
}

func (s *WhereSuite) TestInsertBuildErrors(c *C) {
	tests := []struct {
		summary string
		stmt    sc.Statement
		err     string
	}{{
		summary: "row width",
		stmt:    sc.NewInsert("t").Columns("a", "b").Values(1),
		err:     `invalid statement: row has 1 values, expected 2`,
	}, {
		summary: "columns after rows",
		stmt:    sc.NewInsert("t").Values(1).Columns("a"),
		err:     `invalid statement: columns must be set before rows`,
	}, {
		summary: "qualified insert column",
		stmt:    sc.NewInsert("t").Columns("t.a"),
		err:     `invalid statement: column "t.a" must not be qualified`,
	}, {
		summary: "rows after a sub-select",
		stmt:    sc.NewInsert("t").Columns("a").FromSelect(sc.NewSelect("a").From("u")).Values(1),
		err:     `invalid statement: cannot add rows to a statement reading from a sub-select`,
	}, {
		summary: "record without tags",
		stmt:    sc.NewInsert("t").Record(struct{ A int }{1}),
		err:     `invalid statement: no db tags found in struct `,
	}, {
		summary: "record with other columns",
		stmt:    sc.NewInsert("person").Columns("id").Record(Person{ID: 1, Fullname: "a"}),
		err:     `invalid statement: record has columns \[id name address_id\], expected \[id\]`,
	}, {
		summary: "qualified SET column",
		stmt:    sc.NewUpdate("t").Set("t.a", 1),
		err:     `invalid statement: SET column "t.a" must not be qualified with a table name`,
	}, {
		summary: "merge key",
		stmt:    sc.NewMerge("t").Keys("t.id"),
		err:     `invalid statement: merge key "t.id" must be a plain column name`,
	}, {
		summary: "sub-select as a target",
		stmt:    sc.NewDelete(sc.As(sc.NewSelect().From("t"), "x")),
		err:     `invalid statement: cannot modify sqlcompose.Aliased, need a table`,
	}, {
		summary: "negative limit",
		stmt:    sc.NewSelect().From("t").Limit(-1),
		err:     `invalid statement: invalid range: limit -1, offset 0`,
	}, {
		summary: "empty statement id",
		stmt:    sc.NewSelect().From("t").SetID(""),
		err:     `invalid statement: empty statement id`,
	}}
	for i, t := range tests {
		c.Logf("test %d: %s", i, t.summary)
		c.Check(t.stmt.Err(), ErrorMatches, t.err)
	}
}

func (s *WhereSuite) TestConstantTableErrors(c *C) {
	_, err := sc.NewConstantTable("v", []string{"a", "b"}, []any{1})
	c.Check(err, ErrorMatches, `invalid statement: constant table "v": row 0 has 1 values, expected 2`)
	_, err = sc.NewConstantTable("", []string{"a"}, []any{1})
	c.Check(err, ErrorMatches, `invalid statement: constant table needs an alias`)
	_, err = sc.NewConstantTable("v", []string{"a"})
	c.Check(err, ErrorMatches, `invalid statement: constant table "v" has no rows`)
}
