package timeline

import (
	"sort"
	"time"
)

// Gap is a quiet period between two consecutive anchored entries.
type Gap struct {
	Start    time.Duration `json:"start"`
	End      time.Duration `json:"end"`
	Duration time.Duration `json:"duration"`
	Before   string        `json:"before"`
	After    string        `json:"after"`
}

// Gaps returns quiet periods of at least threshold, largest first. A
// non-positive threshold uses DefaultGapThreshold.
func (t Timeline) Gaps(threshold time.Duration) []Gap {
	if threshold <= 0 {
		threshold = DefaultGapThreshold
	}

	var (
		gaps []Gap
		prev *Entry
	)
	for i := range t.Entries {
		e := &t.Entries[i]
		if !e.Anchored {
			continue
		}
		if prev != nil && e.At-prev.At >= threshold {
			gaps = append(gaps, Gap{
				Start:    prev.At,
				End:      e.At,
				Duration: e.At - prev.At,
				Before:   prev.Event.Text(),
				After:    e.Event.Text(),
			})
		}
		prev = e
	}

	sort.SliceStable(gaps, func(i, j int) bool {
		if gaps[i].Duration != gaps[j].Duration {
			return gaps[i].Duration > gaps[j].Duration
		}
		return gaps[i].Start < gaps[j].Start
	})
	return gaps
}
