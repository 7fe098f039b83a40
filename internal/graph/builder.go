package graph

// Record is one unit as reported by systemd: its name, the units it names per
// relation, and optionally its runtime state.
type Record struct {
	Name      string
	Relations map[Relation][]string
	State     *UnitState
}

// Build turns records into a graph. Units named by a relation but missing a
// record of their own become nodes without state. Duplicate relations are
// stored once.
//
// An After relation on a unit whose conditions failed (ConditionResult=no) is
// stored as RelationConditionResultNo so it can be filtered separately.
func Build(records []Record) *Graph {
	g := New()

	// 1. Collect unit state first so relations can be classified regardless
	// of record order.
	skipped := make(map[string]bool)
	for _, r := range records {
		if r.Name == "" {
			continue
		}
		n := g.AddNode(r.Name)
		if r.State != nil {
			n.Unit = r.State
			skipped[r.Name] = !r.State.ConditionResult
		}
	}

	// 2. Add edges in declaration order.
	for _, r := range records {
		if r.Name == "" {
			continue
		}
		for _, rel := range Relations {
			for _, target := range r.Relations[rel] {
				if target == "" || target == r.Name {
					continue
				}
				if rel == RelationAfter && skipped[target] {
					g.AddEdge(r.Name, target, RelationConditionResultNo)
					continue
				}
				g.AddEdge(r.Name, target, rel)
			}
		}
	}
	return g
}
