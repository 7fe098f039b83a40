// Package systemd parses systemctl output into graph records.
package systemd

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cjp256/lpt/internal/graph"
)

// Properties is one `systemctl show` block.
type Properties map[string]string

// relationProperties maps systemctl show keys onto graph relations.
var relationProperties = map[string]graph.Relation{
	"After":     graph.RelationAfter,
	"Before":    graph.RelationBefore,
	"Requires":  graph.RelationRequires,
	"Requisite": graph.RelationRequisite,
	"Wants":     graph.RelationWants,
	"BindsTo":   graph.RelationBindsTo,
	"PartOf":    graph.RelationPartOf,
	"Conflicts": graph.RelationConflicts,
}

// timestampLayout is how systemctl prints wall clock properties.
const timestampLayout = "Mon 2006-01-02 15:04:05 MST"

// ParseShow reads `systemctl show [unit...]` output. Blocks for several units
// are separated by blank lines. Lines without "=" are skipped.
func ParseShow(r io.Reader) ([]Properties, error) {
	var (
		blocks  []Properties
		current Properties
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
			}
			current = nil
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if current == nil {
			current = make(Properties)
		}
		current[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read systemctl show: %w", err)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks, nil
}

// Name is the unit id.
func (p Properties) Name() string {
	if id := p["Id"]; id != "" {
		return id
	}
	if names := strings.Fields(p["Names"]); len(names) > 0 {
		return names[0]
	}
	return ""
}

// Record converts the block into a graph record.
func (p Properties) Record() graph.Record {
	rec := graph.Record{
		Name:      p.Name(),
		Relations: make(map[graph.Relation][]string),
		State:     p.State(),
	}
	for key, rel := range relationProperties {
		if deps := strings.Fields(p[key]); len(deps) > 0 {
			rec.Relations[rel] = deps
		}
	}
	return rec
}

// State extracts the unit's runtime state.
func (p Properties) State() *graph.UnitState {
	return &graph.UnitState{
		LoadState:       p["LoadState"],
		ActiveState:     p["ActiveState"],
		SubState:        p["SubState"],
		Description:     p["Description"],
		ConditionResult: p["ConditionResult"] != "no",
		InactiveExit:    p.Monotonic("InactiveExitTimestampMonotonic"),
		ActiveEnter:     p.Monotonic("ActiveEnterTimestampMonotonic"),
		InactiveEnter:   p.Monotonic("InactiveEnterTimestampMonotonic"),
		ExecMainStart:   p.Monotonic("ExecMainStartTimestampMonotonic"),
		ExecMainExit:    p.Monotonic("ExecMainExitTimestampMonotonic"),
	}
}

// Monotonic reads a microsecond property. Missing or invalid values are zero,
// which systemd also uses for "never".
func (p Properties) Monotonic(key string) time.Duration {
	usec, err := strconv.ParseInt(p[key], 10, 64)
	if err != nil || usec < 0 {
		return 0
	}
	return time.Duration(usec) * time.Microsecond
}

// Timestamp reads a wall clock property. "n/a" and empty values are zero.
func (p Properties) Timestamp(key string) (time.Time, error) {
	v := p[key]
	if v == "" || v == "n/a" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(timestampLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s=%q: %w", key, v, err)
	}
	return ts, nil
}

// Records converts every unit block.
func Records(blocks []Properties) []graph.Record {
	out := make([]graph.Record, 0, len(blocks))
	for _, b := range blocks {
		if b.Name() == "" {
			continue
		}
		out = append(out, b.Record())
	}
	return out
}

// Manager holds the boot milestones from `systemctl show` without a unit.
type Manager struct {
	Kernel    time.Time     `json:"kernel"`
	Userspace time.Duration `json:"userspace"`
	Finish    time.Duration `json:"finish"`
	Finished  time.Time     `json:"finished"`
}

// ParseManager reads the manager properties. Finish is zero while the boot is
// still in progress.
func ParseManager(p Properties) (Manager, error) {
	var (
		m   Manager
		err error
	)
	if m.Kernel, err = p.Timestamp("KernelTimestamp"); err != nil {
		return Manager{}, err
	}
	if m.Finished, err = p.Timestamp("FinishTimestamp"); err != nil {
		return Manager{}, err
	}
	m.Userspace = p.Monotonic("UserspaceTimestampMonotonic")
	m.Finish = p.Monotonic("FinishTimestampMonotonic")
	return m, nil
}

// IsManager reports whether the block describes the manager rather than a unit.
func (p Properties) IsManager() bool {
	_, ok := p["UserspaceTimestampMonotonic"]
	return ok && p.Name() == ""
}
