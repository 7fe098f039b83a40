package analyze

import (
	"sort"

	"github.com/cjp256/lpt/internal/cloudinit"
	"github.com/cjp256/lpt/internal/graph"
	"github.com/cjp256/lpt/internal/model"
	"github.com/cjp256/lpt/internal/timeline"
)

// DefaultRootUnit is where unit summaries start walking ordering dependencies.
const DefaultRootUnit = "multi-user.target"

// Unit summarises how long a unit or cloud-init frame took and what it
// waited for.
type Unit struct {
	Name         string   `json:"name"`
	Duration     float64  `json:"duration"`
	Finished     float64  `json:"finished"`
	Dependencies []string `json:"dependencies"`
	Failed       bool     `json:"failed"`
}

// cloudInitServices maps each cloud-init service to the stage it runs.
var cloudInitServices = map[string]string{
	"cloud-init-local.service": model.StageInitLocal,
	"cloud-init.service":       model.StageInitNetwork,
	"cloud-config.service":     model.StageModulesConfig,
	"cloud-final.service":      model.StageModulesFinal,
}

// summariseUnits walks After= ordering from root through units that are
// active, then attaches cloud-init frames below the service that ran them.
// Filters must already have been applied to g.
func summariseUnits(g *graph.Graph, tl *timeline.Timeline, root string) map[string]Unit {
	if root == "" {
		root = DefaultRootUnit
	}
	units := make(map[string]Unit)
	seen := make(map[string]bool)

	var walk func(name string)
	walk = func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true

		node, ok := g.Node(name)
		if !ok || node.Unit == nil {
			return
		}

		var deps []string
		for _, e := range g.Out(name) {
			if e.Relation != graph.RelationAfter && e.Relation != graph.RelationConditionResultNo {
				continue
			}
			dep, ok := g.Node(e.To)
			if !ok || dep.Unit == nil || dep.Unit.ActiveState != "active" {
				continue
			}
			deps = append(deps, e.To)
			walk(e.To)
		}

		u := Unit{Name: name, Dependencies: deps, Failed: node.Unit.Failed()}
		if d, ok := node.Unit.TimeToActivate(); ok {
			u.Duration = round4(d)
		}
		if at, ok := node.Unit.ActivatedAt(); ok {
			u.Finished = round4(at)
		}
		units[name] = u
	}
	walk(root)

	if tl != nil {
		attachFrames(units, tl)
	}

	for name, u := range units {
		u.Dependencies = dedupSorted(u.Dependencies)
		units[name] = u
	}
	return units
}

func attachFrames(units map[string]Unit, tl *timeline.Timeline) {
	frames := tl.Frames()
	children := make(map[int][]int)
	for i, f := range frames {
		if f.Parent >= 0 {
			children[f.Parent] = append(children[f.Parent], i)
		}
	}

	var add func(i int)
	add = func(i int) {
		f := frames[i]
		u := Unit{Name: f.Name, Failed: f.Failed()}
		if !f.Open() {
			u.Duration = round4(f.Duration())
			u.Finished = round4(tl.AlignCloudInit(f.Finish.Timestamp))
		}
		for _, c := range children[i] {
			u.Dependencies = append(u.Dependencies, frames[c].Name)
			add(c)
		}
		units[f.Name] = u
	}

	for service, stage := range cloudInitServices {
		svc, ok := units[service]
		if !ok {
			continue
		}
		for i, f := range frames {
			if f.Parent >= 0 || f.Stage != stage {
				continue
			}
			svc.Dependencies = append(svc.Dependencies, f.Name)
			add(i)
		}
		units[service] = svc
	}
}

func dedupSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// unitEvents reports when each unit finished activating.
func unitEvents(g *graph.Graph) []Event {
	var out []Event
	for _, n := range g.Nodes() {
		at, ok := n.Unit.ActivatedAt()
		if !ok {
			continue
		}
		ev := newEvent(LabelSystemdUnit, model.SourceSystemd, at, true)
		ev.Unit = n.Name
		ev.Result = n.Unit.ActiveState
		if d, ok := n.Unit.TimeToActivate(); ok {
			secs := round4(d)
			ev.Duration = &secs
		}
		out = append(out, ev)
		if n.Unit.Failed() {
			fail := newEvent(LabelUnitFailed, model.SourceSystemd, at, true)
			fail.Unit = n.Name
			fail.Result = n.Unit.ActiveState
			fail.Message = n.Unit.Description
			out = append(out, fail)
		}
	}
	return out
}

// frameEvents reports every cloud-init frame with its duration and result.
func frameEvents(tl timeline.Timeline, frames []cloudinit.Frame) []Event {
	out := make([]Event, 0, len(frames))
	for _, f := range frames {
		ev := newEvent(LabelCloudInitFrame, model.SourceCloudInit, tl.AlignCloudInit(f.Start.Timestamp), tl.Anchor.Found())
		ev.Stage = f.Stage
		ev.Module = f.Module
		ev.Result = f.Result
		ev.Message = f.Start.Message
		ev.Line = f.Start.Line
		ts := f.Start.Timestamp
		ev.TimestampRealtime = &ts
		if !f.Open() {
			secs := round4(f.Duration())
			ev.Duration = &secs
		}
		out = append(out, ev)
	}
	return out
}
