package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	OpAnd = "AND"
	OpOr  = "OR"

	FilterSeparator = "__"
	DefaultFilter   = "content"
	DefaultField    = "content"
)

var validFilters = map[string]bool{
	"contains":   true,
	"exact":      true,
	"gt":         true,
	"gte":        true,
	"lt":         true,
	"lte":        true,
	"in":         true,
	"startswith": true,
	"range":      true,
	"endswith":   true,
	"content":    true,
	"fuzzy":      true,
}

// IsValidFilter reports whether name is a known lookup suffix.
func IsValidFilter(name string) bool { return validFilters[name] }

// Term is a single field__filter=value condition.
type Term struct {
	Field  string
	Filter string
	Value  string
}

func (t Term) String() string {
	return t.Field + FilterSeparator + t.Filter + "=" + t.Value
}

// SQ is a boolean tree of terms. A node holds either a Term or children
// joined by Connector; Negated inverts the whole node.
type SQ struct {
	Connector string
	Negated   bool
	Term      *Term
	Children  []*SQ
}

// Q builds a one-term query from a lookup such as "title__startswith". A key
// without a known filter suffix uses the content filter.
func Q(key string, value interface{}) *SQ {
	field, filter := key, DefaultFilter
	if i := strings.LastIndex(key, FilterSeparator); i > 0 && IsValidFilter(key[i+len(FilterSeparator):]) {
		field, filter = key[:i], key[i+len(FilterSeparator):]
	}
	t := &Term{Field: field, Filter: filter, Value: formatValue(value)}
	return &SQ{Connector: OpAnd, Children: []*SQ{{Connector: OpAnd, Term: t}}}
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case time.Time:
		return x.Format("2006-01-02 15:04:05")
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func And(qs ...*SQ) *SQ { return combine(OpAnd, qs) }

func Or(qs ...*SQ) *SQ { return combine(OpOr, qs) }

// Group wraps q in an AND node of its own.
func Group(q *SQ) *SQ {
	return &SQ{Connector: OpAnd, Children: []*SQ{q}}
}

// Not returns a negated copy of q.
func Not(q *SQ) *SQ {
	c := *q
	c.Negated = !q.Negated
	return &c
}

func combine(op string, qs []*SQ) *SQ {
	out := &SQ{Connector: op}
	for _, q := range qs {
		if q == nil {
			continue
		}
		// Un-negated nodes with the same connector, or a single child, are
		// flattened into the parent.
		if q.Term == nil && !q.Negated && (q.Connector == op || len(q.Children) == 1) {
			out.Children = append(out.Children, q.Children...)
			continue
		}
		out.Children = append(out.Children, q)
	}
	return out
}

func (q *SQ) IsLeaf() bool { return q.Term != nil }

func (q *SQ) String() string {
	if q == nil {
		return "<SQ: AND >"
	}
	return fmt.Sprintf("<SQ: %s %s>", q.Connector, q.queryString())
}

func (q *SQ) queryString() string {
	if q.Term != nil {
		s := q.Term.String()
		if q.Negated {
			return "NOT (" + s + ")"
		}
		return s
	}
	parts := make([]string, 0, len(q.Children))
	for _, c := range q.Children {
		parts = append(parts, c.queryString())
	}
	s := strings.Join(parts, " "+q.Connector+" ")
	if q.Negated {
		s = "NOT (" + s + ")"
	}
	if len(q.Children) != 1 {
		s = "(" + s + ")"
	}
	return s
}

// Terms lists the leaves of q in order.
func (q *SQ) Terms() []Term {
	if q == nil {
		return nil
	}
	if q.Term != nil {
		return []Term{*q.Term}
	}
	var out []Term
	for _, c := range q.Children {
		out = append(out, c.Terms()...)
	}
	return out
}

// BuildQuery renders q as a plain keyword string, "*" when there is nothing
// to match.
func BuildQuery(q *SQ) string {
	terms := q.Terms()
	if len(terms) == 0 {
		return "*"
	}
	values := make([]string, len(terms))
	for i, t := range terms {
		values[i] = t.Value
	}
	return strings.Join(values, " ")
}

// searchable fields accepted in the field:value query syntax.
var searchable = map[string]bool{
	"title":      true,
	"text":       true,
	"tags":       true,
	"breadcrumb": true,
}

// ParseQuery turns the text of a search box into an SQ. Words are ANDed,
// OR joins its neighbours, a leading "-" negates a word, "word*" is a prefix
// match and "field:value" restricts a word to one field.
func ParseQuery(text string) *SQ {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var groups []*SQ
	var current []*SQ
	for i := 0; i < len(words); i++ {
		w := words[i]
		if w == OpOr {
			if len(current) > 0 {
				groups = append(groups, And(current...))
				current = nil
			}
			continue
		}
		if t := parseWord(w); t != nil {
			current = append(current, t)
		}
	}
	if len(current) > 0 {
		groups = append(groups, And(current...))
	}

	switch len(groups) {
	case 0:
		return nil
	case 1:
		return groups[0]
	default:
		return Group(Or(groups...))
	}
}

func parseWord(w string) *SQ {
	negate := false
	if strings.HasPrefix(w, "-") && len(w) > 1 {
		negate = true
		w = w[1:]
	}
	field := DefaultField
	if i := strings.Index(w, ":"); i > 0 && searchable[strings.ToLower(w[:i])] {
		field = strings.ToLower(w[:i])
		w = w[i+1:]
	}
	filter := DefaultFilter
	if strings.HasSuffix(w, "*") {
		filter = "startswith"
		w = strings.TrimRight(w, "*")
	}
	if w == "" {
		return nil
	}
	q := Q(field+FilterSeparator+filter, w)
	if negate {
		return Not(q)
	}
	return q
}
