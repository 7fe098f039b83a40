// Package graph models the systemd unit dependency graph.
//
// Nodes are units keyed by name. Edges point from the unit declaring a
// relation to the unit it names, so "ssh.service After=network.target" is the
// edge ssh.service -> network.target with RelationAfter. Several edges with
// different relations may join the same pair of units.
//
// A Graph is built once and then only read; filters and traversals return new
// graphs and never modify their input.
package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNodeNotFound is returned when a traversal starts at an unknown unit.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidFilter is returned for a filter that cannot be parsed.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidRelation is returned for an unknown relation name.
	ErrInvalidRelation = errors.New("invalid relation")
)

// Relation is the type of a dependency edge.
type Relation int

const (
	RelationAfter Relation = iota
	RelationBefore
	RelationRequires
	RelationRequisite
	RelationWants
	RelationBindsTo
	RelationPartOf
	RelationConflicts

	// RelationConditionResultNo replaces After when the named unit was
	// skipped because its conditions failed.
	RelationConditionResultNo
)

var relationNames = map[Relation]string{
	RelationAfter:             "after",
	RelationBefore:            "before",
	RelationRequires:          "requires",
	RelationRequisite:         "requisite",
	RelationWants:             "wants",
	RelationBindsTo:           "binds-to",
	RelationPartOf:            "part-of",
	RelationConflicts:         "conflicts",
	RelationConditionResultNo: "conditional-result-no",
}

// Relations lists every relation in declaration order.
var Relations = []Relation{
	RelationAfter,
	RelationBefore,
	RelationRequires,
	RelationRequisite,
	RelationWants,
	RelationBindsTo,
	RelationPartOf,
	RelationConflicts,
	RelationConditionResultNo,
}

func (r Relation) String() string {
	if name, ok := relationNames[r]; ok {
		return name
	}
	return fmt.Sprintf("relation(%d)", int(r))
}

// DependsOn reports whether an edge of this relation makes one unit depend
// on the other. For most relations the edge source depends on the target;
// reversed is set for Before, where the target depends on the source.
// Conflicts and PartOf do not order units and report ok false.
func (r Relation) DependsOn() (ok, reversed bool) {
	switch r {
	case RelationAfter, RelationRequires, RelationRequisite, RelationWants,
		RelationBindsTo, RelationConditionResultNo:
		return true, false
	case RelationBefore:
		return true, true
	}
	return false, false
}

// MarshalText encodes the relation by name.
func (r Relation) MarshalText() ([]byte, error) {
	if _, ok := relationNames[r]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRelation, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a relation name.
func (r *Relation) UnmarshalText(text []byte) error {
	rel, err := ParseRelation(string(text))
	if err != nil {
		return err
	}
	*r = rel
	return nil
}

// ParseRelation accepts relation names as printed by String, and the systemd
// property spelling ("After", "BindsTo", "PartOf").
func ParseRelation(s string) (Relation, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	switch norm {
	case "bindsto":
		norm = "binds-to"
	case "partof":
		norm = "part-of"
	case "conditionresultno", "condition-result-no":
		norm = "conditional-result-no"
	}
	for rel, name := range relationNames {
		if name == norm {
			return rel, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRelation, s)
}

// Kind is the unit type, taken from the unit name suffix.
type Kind string

const (
	KindService   Kind = "service"
	KindSocket    Kind = "socket"
	KindTarget    Kind = "target"
	KindMount     Kind = "mount"
	KindAutomount Kind = "automount"
	KindDevice    Kind = "device"
	KindSlice     Kind = "slice"
	KindScope     Kind = "scope"
	KindTimer     Kind = "timer"
	KindPath      Kind = "path"
	KindSwap      Kind = "swap"
	KindUnknown   Kind = "unknown"
)

// KindOf derives the kind of a unit from its name.
func KindOf(name string) Kind {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return KindUnknown
	}
	switch k := Kind(name[idx+1:]); k {
	case KindService, KindSocket, KindTarget, KindMount, KindAutomount,
		KindDevice, KindSlice, KindScope, KindTimer, KindPath, KindSwap:
		return k
	}
	return KindUnknown
}

// UnitState is what systemd reported about a unit. Timestamps are time since
// boot; a zero value means systemd never recorded the transition.
type UnitState struct {
	LoadState       string `json:"load_state,omitempty"`
	ActiveState     string `json:"active_state,omitempty"`
	SubState        string `json:"sub_state,omitempty"`
	Description     string `json:"description,omitempty"`
	ConditionResult bool   `json:"condition_result"`

	InactiveExit  time.Duration `json:"inactive_exit,omitempty"`
	ActiveEnter   time.Duration `json:"active_enter,omitempty"`
	InactiveEnter time.Duration `json:"inactive_enter,omitempty"`
	ExecMainStart time.Duration `json:"exec_main_start,omitempty"`
	ExecMainExit  time.Duration `json:"exec_main_exit,omitempty"`
}

// Failed reports whether systemd left the unit in the failed state.
func (u *UnitState) Failed() bool {
	return u != nil && u.ActiveState == "failed"
}

// Activated reports whether the unit ever became active during this boot.
func (u *UnitState) Activated() bool {
	return u != nil && u.ActiveEnter > 0
}

// TimeToActivate is how long the unit took to come up. It prefers the
// inactive-exit to active-enter transition, then the main process run time,
// then the time spent trying to leave the inactive state.
func (u *UnitState) TimeToActivate() (time.Duration, bool) {
	switch {
	case u == nil:
		return 0, false
	case u.ActiveEnter > 0 && u.InactiveExit > 0:
		return u.ActiveEnter - u.InactiveExit, true
	case u.ExecMainExit > 0 && u.ExecMainStart > 0:
		return u.ExecMainExit - u.ExecMainStart, true
	case u.InactiveExit > 0 && u.InactiveEnter > 0:
		return u.InactiveExit - u.InactiveEnter, true
	}
	return 0, false
}

// ActivatedAt is the time since boot at which the unit finished activating.
func (u *UnitState) ActivatedAt() (time.Duration, bool) {
	switch {
	case u == nil:
		return 0, false
	case u.ActiveEnter > 0:
		return u.ActiveEnter, true
	case u.ExecMainExit > 0:
		return u.ExecMainExit, true
	case u.InactiveExit > 0:
		return u.InactiveExit, true
	}
	return 0, false
}

// Node is a unit.
type Node struct {
	Name string     `json:"name"`
	Kind Kind       `json:"kind"`
	Unit *UnitState `json:"unit,omitempty"`
}

// Edge is a directed, typed relation between two units.
type Edge struct {
	From     string   `json:"from"`
	To       string   `json:"to"`
	Relation Relation `json:"relation"`
}

func (e Edge) String() string {
	return fmt.Sprintf("%s -[%s]-> %s", e.From, e.Relation, e.To)
}

// Graph is a set of units and the relations between them. Every edge joins
// two nodes of the graph.
type Graph struct {
	nodes map[string]*Node
	edges map[Edge]struct{}
	out   map[string][]Edge
	in    map[string][]Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[Edge]struct{}),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
}

// AddNode inserts a unit if absent and returns it.
func (g *Graph) AddNode(name string) *Node {
	if n, ok := g.nodes[name]; ok {
		return n
	}
	n := &Node{Name: name, Kind: KindOf(name)}
	g.nodes[name] = n
	return n
}

// AddEdge inserts both endpoints if absent and the edge if new. It reports
// whether the edge was added.
func (g *Graph) AddEdge(from, to string, rel Relation) bool {
	g.AddNode(from)
	g.AddNode(to)
	e := Edge{From: from, To: to, Relation: rel}
	if _, ok := g.edges[e]; ok {
		return false
	}
	g.edges[e] = struct{}{}
	g.out[from] = append(g.out[from], e)
	g.in[to] = append(g.in[to], e)
	return true
}

// Node looks up a unit.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// HasEdge reports whether the exact edge exists.
func (g *Graph) HasEdge(from, to string, rel Relation) bool {
	_, ok := g.edges[Edge{From: from, To: to, Relation: rel}]
	return ok
}

// NodeCount returns the number of units.
func (g *Graph) NodeCount() int { return len(g.nodes) }

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// Nodes returns all units sorted by name.
func (g *Graph) Nodes() []Node {
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Edges returns all edges sorted by from, to and relation.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

// Out returns the edges leaving a unit.
func (g *Graph) Out(name string) []Edge {
	out := append([]Edge(nil), g.out[name]...)
	sortEdges(out)
	return out
}

// In returns the edges entering a unit.
func (g *Graph) In(name string) []Edge {
	in := append([]Edge(nil), g.in[name]...)
	sortEdges(in)
	return in
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Relation < b.Relation
	})
}

// subgraph copies the nodes accepted by keepNode and the edges between them
// accepted by keepEdge.
func (g *Graph) subgraph(keepNode func(*Node) bool, keepEdge func(Edge) bool) *Graph {
	sub := New()
	for name, n := range g.nodes {
		if keepNode(n) {
			cp := *n
			sub.nodes[name] = &cp
		}
	}
	for _, e := range g.Edges() {
		if _, ok := sub.nodes[e.From]; !ok {
			continue
		}
		if _, ok := sub.nodes[e.To]; !ok {
			continue
		}
		if keepEdge(e) {
			sub.AddEdge(e.From, e.To, e.Relation)
		}
	}
	return sub
}

type graphJSON struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// MarshalJSON encodes the graph as sorted node and edge lists.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(graphJSON{Nodes: g.Nodes(), Edges: g.Edges()})
}
