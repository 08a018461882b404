// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlcompose

import (
	"reflect"
	"strings"
)

// Combinator joins the conditions of a group.
type Combinator int

const (
	And Combinator = iota
	Or
)

func (c Combinator) String() string {
	if c == Or {
		return "OR"
	}
	return "AND"
}

// Where is a boolean tree of conditions. The root group combines its
// conditions with AND unless created by NewOrWhere.
//
// Nested groups are built either with Group, which passes a fresh Where to
// a callable, or with the fluent Open and Close pair. Open pushes a new
// group onto the builder stack held by the Where and Close pops it; every
// mutator applies to the innermost open group.
//
// The first invalid mutation is recorded and returned by Err, and every
// later mutation is ignored.
type Where struct {
	root  *group
	stack []*group
	err   error
}

type group struct {
	combinator Combinator
	conditions []condition
}

// condition is one of predicate, exprCondition, existsCondition or *group.
type condition interface {
	condition()
}

// predicate compares a column to a value.
type predicate struct {
	column Expression
	op     string
	value  Expression
}

// exprCondition is a boolean expression used as a condition, such as a Raw
// fragment or a Between.
type exprCondition struct {
	expr Expression
}

type existsCondition struct {
	sub *Select
	not bool
}

func (predicate) condition()       {}
func (exprCondition) condition()   {}
func (existsCondition) condition() {}
func (*group) condition()          {}

// NewWhere returns an empty tree whose root combines with AND.
func NewWhere() *Where {
	return newWhere(And)
}

// NewOrWhere returns an empty tree whose root combines with OR.
func NewOrWhere() *Where {
	return newWhere(Or)
}

func newWhere(c Combinator) *Where {
	root := &group{combinator: c}
	return &Where{root: root, stack: []*group{root}}
}

// On returns a tree holding one comparison between two columns, for use as
// a join condition. String operands on both sides are column references.
func On(left any, op string, right any) *Where {
	w := NewWhere()
	if s, ok := right.(string); ok {
		e, err := parseColumn(s)
		if err != nil {
			w.fail(err)
			return w
		}
		right = e
	}
	return w.Cond(left, op, right)
}

func (w *Where) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Where) current() *group {
	return w.stack[len(w.stack)-1]
}

func (w *Where) add(c condition) {
	g := w.current()
	g.conditions = append(g.conditions, c)
}

// Err returns the first error raised while building the tree.
func (w *Where) Err() error {
	if w == nil {
		return nil
	}
	return w.err
}

// Len returns the number of conditions in the root group.
func (w *Where) Len() int {
	if w == nil {
		return 0
	}
	return len(w.root.conditions)
}

var operators = map[string]bool{
	"=": true, "<>": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
	"IN": true, "NOT IN": true,
	"LIKE": true, "NOT LIKE": true,
	"IS": true, "IS NOT": true,
	"BETWEEN": true, "NOT BETWEEN": true,
}

// normalizeOp upper-cases an operator and collapses its inner spaces.
func normalizeOp(op string) string {
	return strings.ToUpper(strings.Join(strings.Fields(op), " "))
}

var nullExpr = Raw{SQL: "NULL"}

// Cond adds the condition "column op value".
//
// An equality against a slice or sub-select becomes IN, and an inequality
// becomes NOT IN. Comparing to nil with =, <>, != or IS becomes IS NULL or
// IS NOT NULL. BETWEEN and NOT BETWEEN need a slice holding exactly two
// bounds.
func (w *Where) Cond(column any, op string, value any) *Where {
	if w.err != nil {
		return w
	}
	c, err := w.predicate(column, op, value)
	if err != nil {
		w.fail(err)
		return w
	}
	w.add(c)
	return w
}

// Eq adds the condition "column = value".
func (w *Where) Eq(column any, value any) *Where {
	return w.Cond(column, "=", value)
}

func (w *Where) predicate(column any, op string, value any) (condition, error) {
	col, err := columnExpr(column)
	if err != nil {
		return nil, err
	}
	op = normalizeOp(op)
	if !operators[op] {
		return nil, buildError("unsupported operator %q for column %v", op, column)
	}

	switch op {
	case "BETWEEN", "NOT BETWEEN":
		if !isList(value) || reflect.ValueOf(value).Len() != 2 {
			return nil, buildError("%s on column %v needs exactly two bounds, got %v", op, column, value)
		}
		bounds := listValues(value)
		low, err := valueExpr(bounds[0])
		if err != nil {
			return nil, err
		}
		high, err := valueExpr(bounds[1])
		if err != nil {
			return nil, err
		}
		return exprCondition{Between{Expr: col, Not: op == "NOT BETWEEN", Low: low, High: high}}, nil
	}

	if value == nil {
		switch op {
		case "=", "IS":
			return predicate{column: col, op: "IS", value: nullExpr}, nil
		case "<>", "!=", "IS NOT":
			return predicate{column: col, op: "IS NOT", value: nullExpr}, nil
		}
		return nil, buildError("cannot compare column %v with NULL using %s", column, op)
	}

	_, isSub := value.(*Select)
	if isList(value) || isSub {
		switch op {
		case "=", "IN":
			op = "IN"
		case "<>", "!=", "NOT IN":
			op = "NOT IN"
		default:
			if !isSub {
				return nil, buildError("operator %s on column %v cannot take a list", op, column)
			}
		}
	} else if op == "IN" || op == "NOT IN" {
		value = []any{value}
	}

	val, err := valueExpr(value)
	if err != nil {
		return nil, err
	}
	return predicate{column: col, op: op, value: val}, nil
}

// Expr adds a boolean expression as a condition.
func (w *Where) Expr(e Expression) *Where {
	if w.err != nil {
		return w
	}
	e, err := checkExpr(e)
	if err != nil {
		w.fail(err)
		return w
	}
	if nested, ok := e.(*Where); ok {
		w.add(nested.Clone().root)
		return w
	}
	w.add(exprCondition{e})
	return w
}

// Raw adds an opaque SQL condition.
func (w *Where) Raw(sql string, args ...any) *Where {
	return w.Expr(RawSQL(sql, args...))
}

// Exists adds an EXISTS condition over sub.
func (w *Where) Exists(sub *Select) *Where {
	return w.exists(sub, false)
}

// NotExists adds a NOT EXISTS condition over sub.
func (w *Where) NotExists(sub *Select) *Where {
	return w.exists(sub, true)
}

func (w *Where) exists(sub *Select, not bool) *Where {
	if w.err != nil {
		return w
	}
	if _, err := checkExpr(sub); err != nil {
		w.fail(err)
		return w
	}
	w.add(existsCondition{sub: sub, not: not})
	return w
}

// Open starts a nested group combining with c. Conditions added until the
// matching Close go into the group.
func (w *Where) Open(c Combinator) *Where {
	if w.err != nil {
		return w
	}
	if c != And && c != Or {
		w.fail(buildError("invalid combinator %d", c))
		return w
	}
	g := &group{combinator: c}
	w.add(g)
	w.stack = append(w.stack, g)
	return w
}

// Close ends the innermost group started with Open.
func (w *Where) Close() *Where {
	if w.err != nil {
		return w
	}
	if len(w.stack) == 1 {
		w.fail(buildError("close without matching open"))
		return w
	}
	w.stack = w.stack[:len(w.stack)-1]
	return w
}

// Group adds a nested group combining with c, populated by fn.
func (w *Where) Group(c Combinator, fn func(*Where)) *Where {
	if w.err != nil {
		return w
	}
	if fn == nil {
		w.fail(buildError("nil callable"))
		return w
	}
	nested := newWhere(c)
	fn(nested)
	if err := nested.complete(); err != nil {
		w.fail(err)
		return w
	}
	w.add(nested.root)
	return w
}

// Merge adds a copy of other's conditions as a nested group.
func (w *Where) Merge(other *Where) *Where {
	if w.err != nil {
		return w
	}
	if other == nil {
		return w
	}
	if err := other.complete(); err != nil {
		w.fail(err)
		return w
	}
	w.add(other.Clone().root)
	return w
}

// complete returns an error if the tree failed to build or has groups left
// open.
func (w *Where) complete() error {
	if w == nil {
		return nil
	}
	if w.err != nil {
		return w.err
	}
	if len(w.stack) > 1 {
		return buildError("%d condition groups left open", len(w.stack)-1)
	}
	return nil
}

// Clone returns a deep copy of the tree. Groups still open in w are open in
// the copy.
func (w *Where) Clone() *Where {
	if w == nil {
		return nil
	}
	copies := map[*group]*group{}
	c := &Where{root: cloneGroup(w.root, copies), err: w.err}
	for _, g := range w.stack {
		c.stack = append(c.stack, copies[g])
	}
	return c
}

func cloneGroup(g *group, copies map[*group]*group) *group {
	c := &group{combinator: g.combinator}
	copies[g] = c
	if g.conditions != nil {
		c.conditions = make([]condition, len(g.conditions))
	}
	for i, cond := range g.conditions {
		switch cond := cond.(type) {
		case *group:
			c.conditions[i] = cloneGroup(cond, copies)
		case predicate:
			c.conditions[i] = predicate{column: cloneExpr(cond.column), op: cond.op, value: cloneExpr(cond.value)}
		case exprCondition:
			c.conditions[i] = exprCondition{cloneExpr(cond.expr)}
		case existsCondition:
			c.conditions[i] = existsCondition{sub: cond.sub.Clone(), not: cond.not}
		}
	}
	return c
}

// and returns a tree combining the non-empty trees with AND, each as a
// nested group. A single non-empty tree is returned as is.
func and(ws ...*Where) *Where {
	var nonEmpty []*Where
	for _, w := range ws {
		if w.Len() > 0 {
			nonEmpty = append(nonEmpty, w)
		}
	}
	if len(nonEmpty) == 1 {
		return nonEmpty[0]
	}
	out := NewWhere()
	for _, w := range nonEmpty {
		out.Merge(w)
	}
	return out
}
