// Package query implements a small typed query builder and the
// dependency analysis the reactive query manager uses to know which
// dirty-row events should trigger a re-run.
package query

import (
	"fmt"
	"strings"
)

// Op is a leaf comparison operator.
type Op int

const (
	Eq Op = iota
	Neq
	Gt
	Gte
	Lt
	Lte
	Like
	In
	Between
	IsNull
)

var opSQL = map[Op]string{
	Eq: "=", Neq: "!=", Gt: ">", Gte: ">=", Lt: "<", Lte: "<=", Like: "LIKE",
}

// Predicate is one node of a Where expression tree: either a leaf
// comparison or an And/Or combination of sub-predicates.
type Predicate struct {
	// Leaf fields.
	Column string
	Op     Op
	Value  interface{}
	Values []interface{} // for In, and the two bounds for Between

	// Combinator fields; set instead of the leaf fields.
	combinator string // "AND" or "OR"
	children   []Predicate
}

// Cmp builds a leaf comparison predicate.
func Cmp(column string, op Op, value interface{}) Predicate {
	return Predicate{Column: column, Op: op, Value: value}
}

// InList builds an IN predicate.
func InList(column string, values ...interface{}) Predicate {
	return Predicate{Column: column, Op: In, Values: values}
}

// BetweenVals builds a BETWEEN predicate.
func BetweenVals(column string, lo, hi interface{}) Predicate {
	return Predicate{Column: column, Op: Between, Values: []interface{}{lo, hi}}
}

// Null builds an IS NULL predicate.
func Null(column string) Predicate {
	return Predicate{Column: column, Op: IsNull}
}

// And combines predicates with AND.
func And(preds ...Predicate) Predicate {
	return Predicate{combinator: "AND", children: preds}
}

// Or combines predicates with OR.
func Or(preds ...Predicate) Predicate {
	return Predicate{combinator: "OR", children: preds}
}

func (p Predicate) isLeaf() bool { return p.combinator == "" }

func (p Predicate) compile(args *[]interface{}) (string, error) {
	if !p.isLeaf() {
		if len(p.children) == 0 {
			return "1=1", nil
		}
		parts := make([]string, len(p.children))
		for i, c := range p.children {
			compiled, err := c.compile(args)
			if err != nil {
				return "", err
			}
			parts[i] = compiled
		}
		return "(" + strings.Join(parts, " "+p.combinator+" ") + ")", nil
	}

	switch p.Op {
	case IsNull:
		return fmt.Sprintf("%s IS NULL", quoteIdent(p.Column)), nil
	case In:
		if len(p.Values) == 0 {
			return "0", nil // empty IN () never matches
		}
		placeholders := make([]string, len(p.Values))
		for i, v := range p.Values {
			placeholders[i] = "?"
			*args = append(*args, v)
		}
		return fmt.Sprintf("%s IN (%s)", quoteIdent(p.Column), strings.Join(placeholders, ", ")), nil
	case Between:
		if len(p.Values) != 2 {
			return "", fmt.Errorf("query: BETWEEN requires exactly two bounds")
		}
		*args = append(*args, p.Values[0], p.Values[1])
		return fmt.Sprintf("%s BETWEEN ? AND ?", quoteIdent(p.Column)), nil
	default:
		op, ok := opSQL[p.Op]
		if !ok {
			return "", fmt.Errorf("query: unsupported operator %v", p.Op)
		}
		*args = append(*args, p.Value)
		return fmt.Sprintf("%s %s ?", quoteIdent(p.Column), op), nil
	}
}

// OrderBy is one ORDER BY term.
type OrderBy struct {
	Column string
	Desc   bool
}

// Source is a FROM/JOIN target: a table or a declared view.
type Source struct {
	Name string
	// Raw marks a source whose SQL is unknown to the query package —
	// an escape hatch for callers supplying a raw subquery fragment.
	// Dependency analysis treats Raw sources as depending on Unknown.
	Raw bool
}

// Join is one JOIN clause.
type Join struct {
	Source Source
	On     Predicate
	Kind   string // "INNER", "LEFT", etc.; defaults to "INNER" if empty
}

// Query is a compilable SELECT statement.
type Query struct {
	From    Source
	Joins   []Join
	Where   Predicate
	Order   []OrderBy
	LimitN  int
	HasLimit bool
	Columns []string // empty means SELECT *
}

// From starts a new Query reading from the given table or view name.
func From(name string) *Query {
	return &Query{From: Source{Name: name}}
}

// Select restricts the projected columns.
func (q *Query) Select(columns ...string) *Query {
	q.Columns = columns
	return q
}

// Join adds a join.
func (q *Query) Join(kind string, source string, on Predicate) *Query {
	q.Joins = append(q.Joins, Join{Source: Source{Name: source}, On: on, Kind: kind})
	return q
}

// Where_ sets the WHERE predicate.
func (q *Query) Where_(p Predicate) *Query {
	q.Where = p
	return q
}

// OrderByCol appends an ORDER BY term.
func (q *Query) OrderByCol(column string, desc bool) *Query {
	q.Order = append(q.Order, OrderBy{Column: column, Desc: desc})
	return q
}

// Limit sets a row limit.
func (q *Query) Limit(n int) *Query {
	q.LimitN = n
	q.HasLimit = true
	return q
}

// Compile renders the query into a parameterized SQL string.
func (q *Query) Compile() (string, []interface{}, error) {
	var args []interface{}
	cols := "*"
	if len(q.Columns) > 0 {
		quoted := make([]string, len(q.Columns))
		for i, c := range q.Columns {
			quoted[i] = quoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	sql := fmt.Sprintf("SELECT %s FROM %s", cols, quoteIdent(q.From.Name))

	for _, j := range q.Joins {
		kind := j.Kind
		if kind == "" {
			kind = "INNER"
		}
		onSQL, err := j.On.compile(&args)
		if err != nil {
			return "", nil, err
		}
		sql += fmt.Sprintf(" %s JOIN %s ON %s", kind, quoteIdent(j.Source.Name), onSQL)
	}

	if !q.Where.isLeaf() || q.Where.Column != "" {
		whereSQL, err := q.Where.compile(&args)
		if err != nil {
			return "", nil, err
		}
		sql += " WHERE " + whereSQL
	}

	if len(q.Order) > 0 {
		terms := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			terms[i] = fmt.Sprintf("%s %s", quoteIdent(o.Column), dir)
		}
		sql += " ORDER BY " + strings.Join(terms, ", ")
	}

	if q.HasLimit {
		sql += fmt.Sprintf(" LIMIT %d", q.LimitN)
	}

	return sql, args, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
