// Package timeline merges a boot's journal entries with cloud-init records
// into one ordered timeline and derives intervals and gaps from it.
package timeline

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/cjp256/lpt/internal/boot"
	"github.com/cjp256/lpt/internal/cloudinit"
	"github.com/cjp256/lpt/internal/model"
)

// DefaultGapThreshold is the quiet period reported as a gap.
const DefaultGapThreshold = time.Second

// DefaultAnchorSignatures identify lines that cloud-init writes to both its own
// log and the journal, tried in order.
var DefaultAnchorSignatures = []string{
	`Cloud-init v\. \S+ running 'init-local'`,
	`Cloud-init v\. \S+ running 'init'`,
	`Cloud-init v\. \S+ running 'modules:config'`,
	`Cloud-init v\. \S+ running 'modules:final'`,
	`Cloud-init v\. \S+ finished at`,
}

var defaultAnchorRes = func() []*regexp.Regexp {
	res, err := boot.CompileSignatures(DefaultAnchorSignatures)
	if err != nil {
		panic(err)
	}
	return res
}()

// AnchorKind records how the cloud-init clock was aligned.
type AnchorKind string

const (
	AnchorNone      AnchorKind = "none"
	AnchorSignature AnchorKind = "signature"
	AnchorUptime    AnchorKind = "uptime"
	AnchorHostClock AnchorKind = "host-clock"
)

// Anchor maps cloud-init wall clock time onto time since boot.
// Origin is the cloud-init wall clock reading at boot time zero, so a record
// stamped t sits at t - Origin.
type Anchor struct {
	Kind        AnchorKind `json:"kind"`
	Origin      time.Time  `json:"origin"`
	Description string     `json:"description,omitempty"`
}

// Found reports whether cloud-init records could be aligned.
func (a Anchor) Found() bool {
	return a.Kind != AnchorNone && a.Kind != ""
}

// Align converts a cloud-init timestamp to time since boot.
func (a Anchor) Align(t time.Time) time.Duration {
	return t.Sub(a.Origin)
}

// Entry is one event placed on the timeline.
type Entry struct {
	Event    model.Event   `json:"event"`
	At       time.Duration `json:"at"`
	Source   model.Source  `json:"source"`
	Anchored bool          `json:"anchored"`
}

// Timeline is the merged view of a single boot.
type Timeline struct {
	BootID     string  `json:"boot_id"`
	Entries    []Entry `json:"entries"`
	Anchor     Anchor  `json:"anchor"`
	Unanchored bool    `json:"unanchored"`

	intervals []Interval
	frames    []cloudinit.Frame
}

// Options tune correlation. The zero value uses the defaults.
type Options struct {
	AnchorSignatures []*regexp.Regexp
}

// Correlate builds the timeline of seg. Of the cloud-init streams, one per
// boot of the cloud-init log, the one overlapping the segment is used.
// Cloud-init records that cannot be aligned are appended after the journal
// entries and flagged instead of being dropped.
func Correlate(seg boot.Segment, streams [][]model.CloudInitEvent, opts Options) Timeline {
	sigs := opts.AnchorSignatures
	if len(sigs) == 0 {
		sigs = defaultAnchorRes
	}

	tl := Timeline{BootID: seg.BootID, Anchor: Anchor{Kind: AnchorNone}}

	// 1. Journal entries, already sorted by the segmenter.
	var prev time.Duration
	journalEntries := make([]Entry, 0, len(seg.Events))
	for _, e := range seg.Events {
		at, ok := seg.Offset(e)
		if !ok {
			at = prev
		}
		prev = at
		journalEntries = append(journalEntries, Entry{Event: e, At: at, Source: model.SourceJournal, Anchored: true})
	}

	stream := chooseStream(seg, streams)
	paired, frames := cloudinit.Pair(stream)

	// 2. Align cloud-init records.
	tl.Anchor = findAnchor(seg, paired, sigs)
	ciEntries := make([]Entry, 0, len(paired))
	for _, e := range paired {
		entry := Entry{Event: e, Source: model.SourceCloudInit, Anchored: tl.Anchor.Found()}
		if tl.Anchor.Found() {
			entry.At = tl.Anchor.Align(e.Timestamp)
		} else {
			entry.At = e.Timestamp.Sub(paired[0].Timestamp)
		}
		ciEntries = append(ciEntries, entry)
	}

	// 3. Merge.
	if tl.Anchor.Found() || len(ciEntries) == 0 {
		tl.Entries = append(journalEntries, ciEntries...)
		sortEntries(tl.Entries)
	} else {
		tl.Unanchored = true
		sortEntries(journalEntries)
		sortEntries(ciEntries)
		tl.Entries = append(journalEntries, ciEntries...)
	}

	tl.frames = frames
	tl.intervals = deriveIntervals(seg, tl, frames)
	return tl
}

// sortEntries orders by aligned time, then journal before cloud-init, then
// cloud-init stage order. The stable sort keeps input order for the rest.
func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.At != b.At {
			return a.At < b.At
		}
		if pa, pb := a.Source.Priority(), b.Source.Priority(); pa != pb {
			return pa < pb
		}
		return stageOrder(a.Event) < stageOrder(b.Event)
	})
}

func stageOrder(e model.Event) int {
	if ci, ok := e.(model.CloudInitEvent); ok {
		return model.StageOrder(ci.Stage)
	}
	return 0
}

// findAnchor tries, in order: a signature line present in both logs, a
// cloud-init uptime report, and the shared host clock.
func findAnchor(seg boot.Segment, stream []model.CloudInitEvent, sigs []*regexp.Regexp) Anchor {
	if len(stream) == 0 {
		return Anchor{Kind: AnchorNone}
	}

signatures:
	for i, re := range sigs {
		for _, je := range seg.Events {
			if !re.MatchString(je.Message) {
				continue
			}
			at, ok := seg.Offset(je)
			if !ok {
				continue
			}
			ci, found := stream[0], false
			for _, c := range stream {
				if re.MatchString(c.Message) {
					ci, found = c, true
					break
				}
			}
			// Only the first signature marks the start of the stream, so
			// only it may stand in for a missing cloud-init line.
			if !found && i > 0 {
				continue signatures
			}
			return Anchor{
				Kind:        AnchorSignature,
				Origin:      ci.Timestamp.Add(-at),
				Description: fmt.Sprintf("journal %q at %s paired with cloud-init line %d", re.String(), at, ci.Line),
			}
		}
	}

	for _, c := range stream {
		if c.HasUptime {
			return Anchor{
				Kind:        AnchorUptime,
				Origin:      c.Timestamp.Add(-c.Uptime),
				Description: fmt.Sprintf("cloud-init line %d reports uptime %s", c.Line, c.Uptime),
			}
		}
	}

	if seg.HasReference {
		return Anchor{
			Kind:        AnchorHostClock,
			Origin:      seg.Reference,
			Description: "journal wall clock",
		}
	}
	return Anchor{Kind: AnchorNone}
}

// chooseStream picks the cloud-init boot whose wall clock span overlaps the
// segment, falling back to the most recent one.
func chooseStream(seg boot.Segment, streams [][]model.CloudInitEvent) []model.CloudInitEvent {
	var nonEmpty [][]model.CloudInitEvent
	for _, s := range streams {
		if len(s) > 0 {
			nonEmpty = append(nonEmpty, s)
		}
	}
	if len(nonEmpty) == 0 {
		return nil
	}
	if len(nonEmpty) == 1 || !seg.HasReference || len(seg.Events) == 0 {
		return nonEmpty[len(nonEmpty)-1]
	}

	last, _ := seg.Offset(seg.Events[len(seg.Events)-1])
	segStart, segEnd := seg.Reference, seg.Reference.Add(last)
	for i := len(nonEmpty) - 1; i >= 0; i-- {
		s := nonEmpty[i]
		first, final := s[0].Timestamp, s[len(s)-1].Timestamp
		if !first.After(segEnd) && !final.Before(segStart) {
			return s
		}
	}
	return nonEmpty[len(nonEmpty)-1]
}
