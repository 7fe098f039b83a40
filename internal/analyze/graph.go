package analyze

import (
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/cjp256/lpt/internal/graph"
	"github.com/cjp256/lpt/internal/systemd"
)

// GraphOptions select and trim the unit dependency graph.
type GraphOptions struct {
	// Unit restricts the graph to what is reachable from this unit. Empty
	// keeps the whole graph.
	Unit      string
	Direction graph.Direction
	// Depth bounds the walk from Unit; negative is unbounded.
	Depth   int
	Filters []graph.Filter
}

// GraphReport is a filtered unit dependency graph.
type GraphReport struct {
	RunID   string           `json:"run_id"`
	Unit    string           `json:"unit,omitempty"`
	Filters []string         `json:"filters,omitempty"`
	Graph   *graph.Graph     `json:"graph"`
	Manager *systemd.Manager `json:"manager,omitempty"`
}

// Graph builds the dependency graph of records, applies the filters, then
// cuts it down to the requested unit's neighbourhood.
func Graph(records []graph.Record, opts GraphOptions) (*GraphReport, error) {
	g := graph.ApplyFilters(graph.Build(records), opts.Filters)

	if opts.Unit != "" {
		var err error
		g, err = graph.Reachable(g, opts.Unit, opts.Direction, opts.Depth)
		if err != nil {
			return nil, fmt.Errorf("graph %s: %w", opts.Unit, err)
		}
	}

	rep := &GraphReport{RunID: uuid.NewString(), Unit: opts.Unit, Graph: g}
	for _, f := range opts.Filters {
		rep.Filters = append(rep.Filters, f.String())
	}
	return rep, nil
}

// GraphShow is Graph over `systemctl show` output. A manager block, if
// present, is kept for rendering times relative to userspace start.
func GraphShow(r io.Reader, opts GraphOptions) (*GraphReport, error) {
	blocks, err := systemd.ParseShow(r)
	if err != nil {
		return nil, err
	}

	var manager *systemd.Manager
	for _, b := range blocks {
		if !b.IsManager() {
			continue
		}
		m, err := systemd.ParseManager(b)
		if err != nil {
			return nil, fmt.Errorf("parse manager: %w", err)
		}
		manager = &m
		break
	}

	rep, err := Graph(systemd.Records(blocks), opts)
	if err != nil {
		return nil, err
	}
	rep.Manager = manager
	return rep, nil
}

// WriteDOT renders the report as a Graphviz digraph.
func (r *GraphReport) WriteDOT(w io.Writer) error {
	name := r.Unit
	if name == "" {
		name = "units"
	}
	var opts graph.DOTOptions
	if r.Manager != nil {
		opts.Userspace = r.Manager.Userspace
	}
	return graph.WriteDOT(w, r.Graph, name, opts)
}
