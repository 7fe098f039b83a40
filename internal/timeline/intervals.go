package timeline

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cjp256/lpt/internal/boot"
	"github.com/cjp256/lpt/internal/cloudinit"
	"github.com/cjp256/lpt/internal/model"
)

// Interval results.
const (
	ResultSuccess    = "SUCCESS"
	ResultFail       = "FAIL"
	ResultIncomplete = cloudinit.ResultIncomplete
)

// BootLabel labels the interval spanning the whole boot.
const BootLabel = "boot"

// Interval is a span between a start marker and its finish. Open intervals
// never saw a finish; their End is the last entry of the timeline.
type Interval struct {
	Label    string        `json:"label"`
	Source   model.Source  `json:"source"`
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
	Open     bool          `json:"open"`
	Result   string        `json:"result"`
	Anchored bool          `json:"anchored"`
	Depth    int           `json:"depth"`
}

// Duration is End - Start.
func (i Interval) Duration() time.Duration {
	return i.End - i.Start
}

// Intervals returns the derived intervals ordered by start time.
func (t Timeline) Intervals() []Interval {
	out := make([]Interval, len(t.intervals))
	copy(out, t.intervals)
	return out
}

var (
	unitStartingRe = regexp.MustCompile(`^Starting (.+?)\.\.\.$`)
	unitStartedRe  = regexp.MustCompile(`^(?:Started|Finished) (.+?)\.$`)
	unitFailedRe   = regexp.MustCompile(`^Failed to start (.+?)\.$`)
)

func deriveIntervals(seg boot.Segment, tl Timeline, frames []cloudinit.Frame) []Interval {
	if len(tl.Entries) == 0 {
		return nil
	}

	var (
		out           []Interval
		journalLast   time.Duration
		haveJournal   bool
		ciLast        time.Duration
		haveCloudInit bool
	)
	for _, e := range tl.Entries {
		switch e.Source {
		case model.SourceJournal:
			if !haveJournal || e.At > journalLast {
				journalLast = e.At
			}
			haveJournal = true
		case model.SourceCloudInit:
			if !haveCloudInit || e.At > ciLast {
				ciLast = e.At
			}
			haveCloudInit = true
		}
	}
	// Anchored intervals may run to the end of the merged timeline.
	last := journalLast
	if tl.Anchor.Found() && haveCloudInit && ciLast > last {
		last = ciLast
	}

	// 1. Boot.
	if haveJournal {
		start, _ := seg.Offset(seg.Start)
		iv := Interval{Label: BootLabel, Source: model.SourceJournal, Start: start, End: last, Open: true, Result: ResultIncomplete, Anchored: true}
		if seg.End != nil {
			iv.End, _ = seg.Offset(*seg.End)
			iv.Open = false
			iv.Result = ResultSuccess
		}
		out = append(out, iv)
	}

	// 2. Unit activations.
	out = append(out, unitIntervals(tl.Entries, last)...)

	// 3. Cloud-init frames.
	ciEnd := ciLast
	if tl.Anchor.Found() {
		ciEnd = last
	}
	for _, f := range frames {
		iv := Interval{
			Label:    f.Name,
			Source:   model.SourceCloudInit,
			Result:   f.Result,
			Anchored: tl.Anchor.Found(),
			Depth:    f.Depth,
		}
		iv.Start = alignCloudInit(tl, f.Start.Timestamp)
		if f.Finish != nil {
			iv.End = alignCloudInit(tl, f.Finish.Timestamp)
		} else {
			iv.End = ciEnd
			iv.Open = true
		}
		out = append(out, iv)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})
	return out
}

// Frames returns the paired cloud-init frames of the chosen stream.
func (t Timeline) Frames() []cloudinit.Frame {
	out := make([]cloudinit.Frame, len(t.frames))
	copy(out, t.frames)
	return out
}

// AlignCloudInit places a cloud-init wall clock reading on the timeline.
func (t Timeline) AlignCloudInit(ts time.Time) time.Duration {
	return alignCloudInit(t, ts)
}

func alignCloudInit(tl Timeline, ts time.Time) time.Duration {
	if tl.Anchor.Found() {
		return tl.Anchor.Align(ts)
	}
	// Unanchored entries are relative to the first cloud-init record.
	for _, e := range tl.Entries {
		if ci, ok := e.Event.(model.CloudInitEvent); ok {
			return ts.Sub(ci.Timestamp) + e.At
		}
	}
	return 0
}

type activation struct {
	label string
	start time.Duration
}

// unitIntervals pairs systemd "Starting X..." lines with the matching
// "Started X.", "Finished X." or "Failed to start X." line. Units are keyed by
// the UNIT field when journald recorded one, else by description.
func unitIntervals(entries []Entry, last time.Duration) []Interval {
	var (
		out   []Interval
		open  = make(map[string]activation)
		order []string
	)
	for _, e := range entries {
		je, ok := e.Event.(model.JournalEvent)
		if !ok {
			continue
		}
		msg := strings.TrimSpace(je.Message)
		if m := unitStartingRe.FindStringSubmatch(msg); m != nil {
			key := unitKey(je, m[1])
			if _, dup := open[key]; !dup {
				order = append(order, key)
			}
			open[key] = activation{label: unitLabel(je, m[1]), start: e.At}
			continue
		}

		result := ResultSuccess
		m := unitStartedRe.FindStringSubmatch(msg)
		if m == nil {
			m = unitFailedRe.FindStringSubmatch(msg)
			result = ResultFail
		}
		if m == nil {
			continue
		}
		key := unitKey(je, m[1])
		act, ok := open[key]
		if !ok {
			continue
		}
		delete(open, key)
		out = append(out, Interval{
			Label:    act.label,
			Source:   model.SourceJournal,
			Start:    act.start,
			End:      e.At,
			Result:   result,
			Anchored: true,
		})
	}

	for _, key := range order {
		act, ok := open[key]
		if !ok {
			continue
		}
		delete(open, key)
		out = append(out, Interval{
			Label:    act.label,
			Source:   model.SourceJournal,
			Start:    act.start,
			End:      last,
			Open:     true,
			Result:   ResultIncomplete,
			Anchored: true,
		})
	}
	return out
}

func unitKey(e model.JournalEvent, desc string) string {
	if u := e.Field("UNIT"); u != "" {
		return u
	}
	if u := e.Field("USER_UNIT"); u != "" {
		return u
	}
	return desc
}

func unitLabel(e model.JournalEvent, desc string) string {
	if u := e.Field("UNIT"); u != "" {
		return u
	}
	return desc
}
