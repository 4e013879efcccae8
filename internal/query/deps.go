package query

// Unknown is the sentinel dependency name for queries whose full
// table set can't be determined statically (a Raw source). The
// reactive query manager treats a subscription depending on Unknown
// as depending on every table, re-running it on any dirty-row event.
// A view name that the ViewResolver does not map to a query.Query does
// not produce Unknown; see Dependencies.
const Unknown = "__dsqlite_unknown__"

// ViewResolver looks up a declared view's underlying Query, if the
// view was declared that way (as opposed to raw SQL text). Returning
// false means the view's dependencies can't be resolved further.
type ViewResolver func(viewName string) (*Query, bool)

// Dependencies returns the set of table/view names q reads from,
// expanded transitively through any views resolvable via resolve. A
// Raw source contributes Unknown. A name that resolve does not map to
// a query (including a view declared only as raw SQL) contributes just
// its own name; the tables behind such a view are not added.
func Dependencies(q *Query, resolve ViewResolver) map[string]struct{} {
	deps := map[string]struct{}{}
	visit(q.From, resolve, deps, map[string]bool{})
	for _, j := range q.Joins {
		visit(j.Source, resolve, deps, map[string]bool{})
	}
	return deps
}

func visit(src Source, resolve ViewResolver, deps map[string]struct{}, seen map[string]bool) {
	if src.Raw {
		deps[Unknown] = struct{}{}
		return
	}
	if seen[src.Name] {
		return
	}
	seen[src.Name] = true
	deps[src.Name] = struct{}{}

	if resolve == nil {
		return
	}
	if viewQuery, ok := resolve(src.Name); ok {
		visit(viewQuery.From, resolve, deps, seen)
		for _, j := range viewQuery.Joins {
			visit(j.Source, resolve, deps, seen)
		}
	}
}
