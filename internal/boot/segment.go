// Package boot splits a journal stream into per-boot segments and picks the
// boot an analysis should look at.
package boot

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/cjp256/lpt/internal/model"
)

// LegacyPrefix names boots recovered from kernel markers when entries carry
// no _BOOT_ID.
const LegacyPrefix = "legacy-"

var kernelMarkerRe = regexp.MustCompile(`^Linux version `)

// DefaultEndSignatures are the boot-complete markers, highest priority first.
var DefaultEndSignatures = []string{
	`(?i)startup finished in`,
	`(?i)\breached\b.*\bgraphical`,
	`(?i)\breached\b.*\bmulti-user`,
	`(?i)started (serial )?getty on`,
}

// Options tune segmentation. The zero value uses DefaultEndSignatures.
type Options struct {
	EndSignatures []*regexp.Regexp
}

// CompileSignatures compiles patterns in order.
func CompileSignatures(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile signature %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

var defaultEndRes = func() []*regexp.Regexp {
	res, err := CompileSignatures(DefaultEndSignatures)
	if err != nil {
		panic(err)
	}
	return res
}()

// Segment is one boot cycle of the journal.
//
// Events holds every entry of the boot sorted by Offset. Start and End bound
// the boot-relevant window; End is nil while the boot never reported
// completion. Reference is the wall clock instant of monotonic zero.
type Segment struct {
	BootID       string
	Start        model.JournalEvent
	End          *model.JournalEvent
	Events       []model.JournalEvent
	Reference    time.Time
	HasReference bool

	startIdx int
	endIdx   int
}

// Complete reports whether an end marker was found.
func (s Segment) Complete() bool {
	return s.End != nil
}

// Offset returns the time since boot of an entry. Monotonic time is used when
// present, otherwise the wall clock is converted through Reference.
func (s Segment) Offset(e model.JournalEvent) (time.Duration, bool) {
	if e.HasMonotonic {
		return e.Monotonic, true
	}
	if s.HasReference && !e.Realtime.IsZero() {
		return e.Realtime.Sub(s.Reference), true
	}
	return 0, false
}

// Window returns the entries from Start to End inclusive, or to the last
// entry when the boot is incomplete.
func (s Segment) Window() []model.JournalEvent {
	if len(s.Events) == 0 {
		return nil
	}
	end := len(s.Events) - 1
	if s.End != nil {
		end = s.endIdx
	}
	return s.Events[s.startIdx : end+1]
}

// Duration is the time from Start to End, zero for incomplete boots.
func (s Segment) Duration() time.Duration {
	if s.End == nil {
		return 0
	}
	start, _ := s.Offset(s.Start)
	end, _ := s.Offset(*s.End)
	return end - start
}

// SegmentBoots groups entries by boot id in first-seen order, most recent
// last. Entries without a boot id are split on kernel start messages into
// synthetic "legacy-N" boots. Every input entry lands in exactly one segment.
func SegmentBoots(events []model.JournalEvent, opts Options) []Segment {
	if len(events) == 0 {
		return nil
	}
	ends := opts.EndSignatures
	if len(ends) == 0 {
		ends = defaultEndRes
	}

	// 1. Group by boot id, preserving first-seen order.
	var (
		order  []string
		groups = make(map[string][]model.JournalEvent)
		legacy = -1
	)
	for _, e := range events {
		id := e.BootID
		if id == "" {
			switch {
			case legacy < 0:
				legacy = 0
			case kernelMarkerRe.MatchString(e.Message) && len(groups[LegacyPrefix+strconv.Itoa(legacy)]) > 0:
				legacy++
			}
			id = LegacyPrefix + strconv.Itoa(legacy)
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], e)
	}

	// 2. Build each segment.
	segments := make([]Segment, 0, len(order))
	for _, id := range order {
		segments = append(segments, newSegment(id, groups[id], ends))
	}
	return segments
}

func newSegment(id string, events []model.JournalEvent, ends []*regexp.Regexp) Segment {
	seg := Segment{BootID: id}
	seg.Reference, seg.HasReference = reference(events)

	sorted := make([]model.JournalEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, aok := seg.Offset(sorted[i])
		b, bok := seg.Offset(sorted[j])
		if aok != bok {
			return aok
		}
		return a < b
	})
	seg.Events = sorted

	for i, e := range sorted {
		if kernelMarkerRe.MatchString(e.Message) {
			seg.startIdx = i
			break
		}
	}
	seg.Start = sorted[seg.startIdx]

	seg.endIdx = -1
	for _, re := range ends {
		for i := seg.startIdx; i < len(sorted); i++ {
			if re.MatchString(sorted[i].Message) {
				seg.endIdx = i
				break
			}
		}
		if seg.endIdx >= 0 {
			end := sorted[seg.endIdx]
			seg.End = &end
			break
		}
	}
	return seg
}

// reference derives the wall clock time of monotonic zero from the first entry
// carrying both clocks. A boot without monotonic stamps falls back to its
// earliest wall clock entry.
func reference(events []model.JournalEvent) (time.Time, bool) {
	var earliest time.Time
	for _, e := range events {
		if e.HasMonotonic && !e.Realtime.IsZero() {
			return e.Realtime.Add(-e.Monotonic), true
		}
		if !e.Realtime.IsZero() && (earliest.IsZero() || e.Realtime.Before(earliest)) {
			earliest = e.Realtime
		}
	}
	for _, e := range events {
		if e.HasMonotonic {
			return time.Time{}, false
		}
	}
	return earliest, !earliest.IsZero()
}
