package analyze

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cjp256/lpt/internal/model"
	"github.com/cjp256/lpt/internal/timeline"
)

// Event is a labelled point of interest on the boot timeline.
type Event struct {
	Label    string        `json:"label"`
	Severity Severity      `json:"severity"`
	Source   model.Source  `json:"source"`
	At       time.Duration `json:"-"`
	Anchored bool          `json:"anchored"`

	TimestampMonotonic float64    `json:"timestamp_monotonic"`
	TimestampRealtime  *time.Time `json:"timestamp_realtime,omitempty"`

	Unit     string   `json:"unit,omitempty"`
	Priority *int     `json:"priority,omitempty"`
	Stage    string   `json:"stage,omitempty"`
	Module   string   `json:"module,omitempty"`
	Result   string   `json:"result,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Message  string   `json:"message,omitempty"`
	Line     int      `json:"line,omitempty"`

	bootID string
}

func newEvent(label string, src model.Source, at time.Duration, anchored bool) Event {
	return Event{
		Label:              label,
		Severity:           SeverityOf(label),
		Source:             src,
		At:                 at,
		Anchored:           anchored,
		TimestampMonotonic: seconds(at),
	}
}

// Lookup exposes the event to bootql queries.
func (e Event) Lookup(key string) (string, bool) {
	switch key {
	case "label":
		return e.Label, true
	case "severity":
		return string(e.Severity), true
	case "source":
		return string(e.Source), true
	case "unit":
		return e.Unit, e.Unit != ""
	case "message", "msg", "text":
		return e.Message, true
	case "stage":
		return e.Stage, e.Stage != ""
	case "module":
		return e.Module, e.Module != ""
	case "result":
		return e.Result, e.Result != ""
	case "priority":
		if e.Priority == nil {
			return "", false
		}
		return strconv.Itoa(*e.Priority), true
	case "at":
		return strconv.FormatFloat(e.TimestampMonotonic, 'f', -1, 64), true
	case "boot":
		return e.bootID, e.bootID != ""
	}
	return "", false
}

// Values returns the searchable text of the event.
func (e Event) Values() []string {
	return []string{e.Label, e.Unit, e.Stage, e.Module, e.Result, e.Message}
}

// BootSummary describes the selected boot.
type BootSummary struct {
	ID       string  `json:"id"`
	Start    float64 `json:"start"`
	End      float64 `json:"end,omitempty"`
	Complete bool    `json:"complete"`
	Duration float64 `json:"duration"`
	Events   int     `json:"events"`
}

// Report is the result of analysing one boot.
type Report struct {
	RunID      string              `json:"run_id"`
	BootID     string              `json:"boot_id,omitempty"`
	Boot       *BootSummary        `json:"boot,omitempty"`
	Boots      int                 `json:"boots"`
	Anchor     timeline.Anchor     `json:"anchor"`
	Unanchored bool                `json:"unanchored"`
	Events     []Event             `json:"events"`
	Warnings   []Event             `json:"warnings"`
	Intervals  []timeline.Interval `json:"intervals"`
	Gaps       []timeline.Gap      `json:"gaps"`
	Histogram  []HistogramPoint    `json:"histogram"`
	Units      map[string]Unit     `json:"units"`
	Stats      Stats               `json:"stats"`
}

// Stats counts what went into a report.
type Stats struct {
	TotalEvents    int                  `json:"total_events"`
	SourceCounts   map[model.Source]int `json:"source_counts"`
	LabelCounts    map[string]int       `json:"label_counts"`
	PriorityDist   map[string]int       `json:"priority_dist"`
	TopUnits       map[string]int       `json:"top_units"`
	ParseErrors    int                  `json:"parse_errors"`
	CloudInitBoots int                  `json:"cloudinit_boots"`
}

// topUnitsLimit bounds Stats.TopUnits.
const topUnitsLimit = 10

func newStats() Stats {
	return Stats{
		SourceCounts: make(map[model.Source]int),
		LabelCounts:  make(map[string]int),
		PriorityDist: make(map[string]int),
		TopUnits:     make(map[string]int),
	}
}

// collectStats counts timeline entries by source, journal priority and unit,
// and labelled events by label.
func collectStats(tl timeline.Timeline, events []Event) Stats {
	stats := newStats()
	units := make(map[string]int)
	for _, e := range tl.Entries {
		stats.TotalEvents++
		stats.SourceCounts[e.Source]++
		if je, ok := e.Event.(model.JournalEvent); ok {
			stats.PriorityDist[priorityName(je.Priority)]++
			if je.Unit != "" {
				units[je.Unit]++
			}
		}
	}
	for _, e := range events {
		stats.LabelCounts[e.Label]++
	}

	// Keep the busiest units only.
	names := make([]string, 0, len(units))
	for name := range units {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if units[names[i]] != units[names[j]] {
			return units[names[i]] > units[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > topUnitsLimit {
		names = names[:topUnitsLimit]
	}
	for _, name := range names {
		stats.TopUnits[name] = units[name]
	}
	return stats
}

// priorityName converts a syslog priority to its keyword.
func priorityName(p int) string {
	switch p {
	case 0:
		return "EMERG"
	case 1:
		return "ALERT"
	case 2:
		return "CRIT"
	case 3:
		return "ERR"
	case 4:
		return "WARNING"
	case 5:
		return "NOTICE"
	case 6:
		return "INFO"
	case 7:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// seconds rounds to the microsecond journald records.
func seconds(d time.Duration) float64 {
	return d.Round(time.Microsecond).Seconds()
}

// round4 rounds seconds to four decimals for unit summaries.
func round4(d time.Duration) float64 {
	return math.Round(d.Seconds()*1e4) / 1e4
}

func hasLabel(set []string, label string) bool {
	for _, s := range set {
		if strings.EqualFold(s, label) {
			return true
		}
	}
	return false
}
