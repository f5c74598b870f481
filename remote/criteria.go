package remote

import (
	"fmt"
	"strings"
)

// Criteria narrows a table query. Values are plain structs so they serialize
// into stable cache keys.
type Criteria struct {
	Kind   CriteriaKind
	Column string
	Value  any
	Desc   bool
	Limit  int
}

type CriteriaKind string

const (
	KindEq    CriteriaKind = "eq"
	KindOrder CriteriaKind = "order"
	KindLimit CriteriaKind = "limit"
)

// Eq filters rows where column equals value.
func Eq(column string, value any) Criteria {
	return Criteria{Kind: KindEq, Column: column, Value: value}
}

// Order sorts ascending by column.
func Order(column string) Criteria {
	return Criteria{Kind: KindOrder, Column: column}
}

// OrderDesc sorts descending by column.
func OrderDesc(column string) Criteria {
	return Criteria{Kind: KindOrder, Column: column, Desc: true}
}

// Limit caps the number of returned rows. Non positive values are ignored.
func Limit(n int) Criteria {
	return Criteria{Kind: KindLimit, Limit: n}
}

func (c Criteria) String() string {
	switch c.Kind {
	case KindEq:
		return fmt.Sprintf("%s=%v", c.Column, c.Value)
	case KindOrder:
		if c.Desc {
			return c.Column + " desc"
		}
		return c.Column + " asc"
	case KindLimit:
		return fmt.Sprintf("limit %d", c.Limit)
	}
	return string(c.Kind)
}

// Query is the flattened form of a criteria list, handy for backends.
type Query struct {
	Filters []Criteria
	Orders  []Criteria
	Limit   int
}

// Compile splits criteria by kind. The last Limit wins.
func Compile(criteria ...Criteria) Query {
	var q Query
	for _, c := range criteria {
		switch c.Kind {
		case KindEq:
			q.Filters = append(q.Filters, c)
		case KindOrder:
			q.Orders = append(q.Orders, c)
		case KindLimit:
			if c.Limit > 0 {
				q.Limit = c.Limit
			}
		}
	}
	return q
}

// Describe renders criteria for log lines.
func Describe(criteria ...Criteria) string {
	parts := make([]string, 0, len(criteria))
	for _, c := range criteria {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ", ")
}
