package graph

import "fmt"

// Direction selects which edges a traversal follows.
type Direction int

const (
	// DirectionDependencies follows edges out of a unit: what it waited for.
	DirectionDependencies Direction = iota
	// DirectionDependents follows edges into a unit: what waited for it.
	DirectionDependents
	// DirectionBoth follows edges either way.
	DirectionBoth
)

var directionNames = map[Direction]string{
	DirectionDependencies: "dependencies",
	DirectionDependents:   "dependents",
	DirectionBoth:         "both",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return "unknown"
}

// ParseDirection accepts the names printed by String plus "forward"
// (dependencies) and "backward" (dependents).
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "dependencies", "forward", "out":
		return DirectionDependencies, nil
	case "dependents", "backward", "in":
		return DirectionDependents, nil
	case "both":
		return DirectionBoth, nil
	}
	return 0, fmt.Errorf("invalid direction %q", s)
}

// Reachable returns the subgraph induced by the units reachable from start
// within maxDepth hops. Steps follow the dependency meaning of each relation
// (see Relation.DependsOn), so a Before edge is walked against its arrow and
// Conflicts or PartOf edges are never walked. A negative maxDepth means no limit; zero returns only
// start.
func Reachable(g *Graph, start string, dir Direction, maxDepth int) (*Graph, error) {
	if _, ok := g.nodes[start]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, start)
	}

	depth := map[string]int{start: 0}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxDepth >= 0 && depth[cur] >= maxDepth {
			continue
		}

		var next []string
		if dir == DirectionDependencies || dir == DirectionBoth {
			next = append(next, g.dependencies(cur)...)
		}
		if dir == DirectionDependents || dir == DirectionBoth {
			next = append(next, g.dependents(cur)...)
		}
		for _, n := range next {
			if _, seen := depth[n]; seen {
				continue
			}
			depth[n] = depth[cur] + 1
			queue = append(queue, n)
		}
	}

	return g.subgraph(
		func(n *Node) bool {
			_, ok := depth[n.Name]
			return ok
		},
		func(Edge) bool { return true },
	), nil
}

// dependencies lists the units name depends on.
func (g *Graph) dependencies(name string) []string {
	var deps []string
	for _, e := range g.Out(name) {
		if ok, reversed := e.Relation.DependsOn(); ok && !reversed {
			deps = append(deps, e.To)
		}
	}
	for _, e := range g.In(name) {
		if ok, reversed := e.Relation.DependsOn(); ok && reversed {
			deps = append(deps, e.From)
		}
	}
	return deps
}

// dependents lists the units that depend on name.
func (g *Graph) dependents(name string) []string {
	var deps []string
	for _, e := range g.In(name) {
		if ok, reversed := e.Relation.DependsOn(); ok && !reversed {
			deps = append(deps, e.From)
		}
	}
	for _, e := range g.Out(name) {
		if ok, reversed := e.Relation.DependsOn(); ok && reversed {
			deps = append(deps, e.To)
		}
	}
	return deps
}
