package graph

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// FilterKind selects what a Filter removes.
type FilterKind string

const (
	FilterRelation FilterKind = "relation"
	FilterUnit     FilterKind = "unit"
	FilterInactive FilterKind = "inactive"
)

// Filter removes edges or nodes from a graph. Removing a node also removes
// every edge touching it.
type Filter struct {
	Kind  FilterKind
	Value string

	relation Relation
	pattern  glob.Glob
}

// ExcludeRelation drops every edge of the relation. Nodes stay.
func ExcludeRelation(rel Relation) Filter {
	return Filter{Kind: FilterRelation, Value: rel.String(), relation: rel}
}

// ExcludeNode drops units whose name equals pattern or matches it as a glob
// ("systemd-*.socket").
func ExcludeNode(pattern string) (Filter, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return Filter{}, fmt.Errorf("%w: unit pattern %q: %v", ErrInvalidFilter, pattern, err)
	}
	return Filter{Kind: FilterUnit, Value: pattern, pattern: g}, nil
}

// ExcludeInactive drops units systemd reported on that never became active.
// Units without recorded state are kept.
func ExcludeInactive() Filter {
	return Filter{Kind: FilterInactive}
}

func (f Filter) String() string {
	if f.Kind == FilterInactive {
		return string(f.Kind)
	}
	return string(f.Kind) + ":" + f.Value
}

// ParseFilter parses "relation:<name>", "unit:<name or glob>" or "inactive".
func ParseFilter(s string) (Filter, error) {
	s = strings.TrimSpace(s)
	if s == string(FilterInactive) {
		return ExcludeInactive(), nil
	}
	kind, value, ok := strings.Cut(s, ":")
	if !ok || value == "" {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
	switch FilterKind(kind) {
	case FilterRelation:
		rel, err := ParseRelation(value)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
		}
		return ExcludeRelation(rel), nil
	case FilterUnit:
		return ExcludeNode(value)
	}
	return Filter{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidFilter, kind)
}

func (f Filter) dropsNode(n *Node) bool {
	switch f.Kind {
	case FilterUnit:
		return n.Name == f.Value || (f.pattern != nil && f.pattern.Match(n.Name))
	case FilterInactive:
		return n.Unit != nil && !n.Unit.Activated()
	}
	return false
}

func (f Filter) dropsEdge(e Edge) bool {
	return f.Kind == FilterRelation && e.Relation == f.relation
}

// ApplyFilters returns a copy of g with every filter applied. The input is
// not modified and applying the same filters again changes nothing.
func ApplyFilters(g *Graph, filters []Filter) *Graph {
	return g.subgraph(
		func(n *Node) bool {
			for _, f := range filters {
				if f.dropsNode(n) {
					return false
				}
			}
			return true
		},
		func(e Edge) bool {
			for _, f := range filters {
				if f.dropsEdge(e) {
					return false
				}
			}
			return true
		},
	)
}
