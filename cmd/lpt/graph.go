package main

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cjp256/lpt/internal/analyze"
	"github.com/cjp256/lpt/internal/collect"
	"github.com/cjp256/lpt/internal/graph"
)

type graphFlags struct {
	target            targetFlags
	systemdPath       string
	filters           []string
	filterServices    []string
	filterConditional bool
	noFilterInactive  bool
	direction         string
	depth             int
	format            string
}

func newGraphCmd(a *app) *cobra.Command {
	var f graphFlags
	cmd := &cobra.Command{
		Use:   "graph <service>",
		Short: "Render the dependency graph of a unit as DOT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGraph(cmd, args[0], f)
		},
	}

	fl := cmd.Flags()
	f.target.register(cmd)
	fl.StringVar(&f.systemdPath, "systemd-path", "", "Saved systemctl show output")
	fl.StringArrayVar(&f.filters, "filter", nil, `Drop edges or units: "relation:<name>", "unit:<glob>" or "inactive"`)
	fl.StringArrayVar(&f.filterServices, "filter-service", nil, "Drop this unit (glob allowed)")
	fl.BoolVar(&f.filterConditional, "filter-conditional-result-no", false, "Drop ordering edges to units skipped by a failed condition")
	fl.BoolVar(&f.noFilterInactive, "no-filter-inactive", false, "Keep units that never became active")
	fl.StringVar(&f.direction, "direction", "dependencies", "Walk dependencies, dependents or both")
	fl.IntVar(&f.depth, "depth", -1, "Maximum hops from the unit; negative is unbounded")
	fl.StringVar(&f.format, "format", "dot", "Output format: dot or json")
	return cmd
}

func (f graphFlags) options(a *app, unit string) (analyze.GraphOptions, error) {
	dir, err := graph.ParseDirection(f.direction)
	if err != nil {
		return analyze.GraphOptions{}, err
	}

	specs := append([]string(nil), a.cfg.Graph.Filters...)
	specs = append(specs, f.filters...)
	for _, s := range f.filterServices {
		specs = append(specs, string(graph.FilterUnit)+":"+s)
	}
	filters, err := parseFilters(specs)
	if err != nil {
		return analyze.GraphOptions{}, err
	}
	if f.filterConditional {
		filters = append(filters, graph.ExcludeRelation(graph.RelationConditionResultNo))
	}
	if a.cfg.Graph.FilterInactive && !f.noFilterInactive {
		filters = append(filters, graph.ExcludeInactive())
	}

	return analyze.GraphOptions{
		Unit:      unit,
		Direction: dir,
		Depth:     f.depth,
		Filters:   filters,
	}, nil
}

func (a *app) runGraph(cmd *cobra.Command, unit string, f graphFlags) error {
	if f.format != "dot" && f.format != "json" {
		return fmt.Errorf("unknown format %q", f.format)
	}
	opts, err := f.options(a, unit)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	c, cleanup, err := a.collector(ctx, f.target)
	if err != nil {
		return err
	}
	capture, err := c.Collect(ctx, collect.Request{
		Units:       true,
		SystemdPath: firstNonEmpty(f.systemdPath, a.cfg.SystemdPath),
	})
	if cerr := cleanup(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	rep, err := analyze.GraphShow(bytes.NewReader(capture.Units), opts)
	if err != nil {
		return err
	}
	a.log.Info("graph built",
		"unit", unit,
		"nodes", rep.Graph.NodeCount(),
		"edges", rep.Graph.EdgeCount(),
		"filters", rep.Filters)

	if f.format == "json" {
		return a.writeJSON(rep)
	}
	return rep.WriteDOT(a.stdout)
}
