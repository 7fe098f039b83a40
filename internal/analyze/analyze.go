// Package analyze turns raw boot logs into reports: it parses the journal,
// the cloud-init log and systemd unit state, correlates one boot and labels
// the events worth looking at.
package analyze

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/cjp256/lpt/internal/boot"
	"github.com/cjp256/lpt/internal/cloudinit"
	"github.com/cjp256/lpt/internal/graph"
	"github.com/cjp256/lpt/internal/journal"
	"github.com/cjp256/lpt/internal/model"
	"github.com/cjp256/lpt/internal/pkg/bootql"
	"github.com/cjp256/lpt/internal/systemd"
	"github.com/cjp256/lpt/internal/timeline"
)

// Input holds the raw logs. Nil readers are treated as absent.
type Input struct {
	// Journal is `journalctl -o json` output.
	Journal io.Reader
	// CloudInit is /var/log/cloud-init.log.
	CloudInit io.Reader
	// Units is `systemctl show` output for the units of interest, optionally
	// preceded by the manager block.
	Units io.Reader
}

// Options configure a report. The zero value analyses the latest boot.
type Options struct {
	Boot             boot.Selector
	EndSignatures    []*regexp.Regexp
	AnchorSignatures []*regexp.Regexp
	GapThreshold     time.Duration
	// TopGaps limits the reported gaps; zero keeps all.
	TopGaps int
	// HistogramInterval is the bucket width of the record histogram.
	HistogramInterval time.Duration
	// EventTypes keeps only events with these labels.
	EventTypes []string
	// Query is a bootql expression events must match.
	Query string
	// RootUnit is where unit summaries start.
	RootUnit string
	// UnitFilters are applied to the unit graph before summarising.
	UnitFilters []graph.Filter
}

type mode int

const (
	modeFull mode = iota
	modeJournal
	modeCloudInit
)

// Analyze correlates the selected boot across every provided log.
func Analyze(in Input, opts Options) (*Report, error) {
	return run(in, opts, modeFull)
}

// AnalyzeJournal reports on the journal alone.
func AnalyzeJournal(r io.Reader, opts Options) (*Report, error) {
	return run(Input{Journal: r}, opts, modeJournal)
}

// AnalyzeCloudInit reports on the latest run in the cloud-init log alone.
// Records are placed on the boot clock by the uptime cloud-init reports, else
// relative to the run's first record.
func AnalyzeCloudInit(r io.Reader, opts Options) (*Report, error) {
	return run(Input{CloudInit: r}, opts, modeCloudInit)
}

func run(in Input, opts Options, m mode) (*Report, error) {
	// 1. Compile the query first so a typo fails fast.
	query, err := bootql.Parse(opts.Query)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}

	rep := &Report{RunID: uuid.NewString(), Units: map[string]Unit{}, Stats: newStats()}
	var parseErrs []*model.ParseError

	// 2. Parse.
	var journalEvents []model.JournalEvent
	if in.Journal != nil {
		events, perrs, err := journal.Parse(in.Journal)
		if err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}
		journalEvents = events
		parseErrs = append(parseErrs, perrs...)
	}

	var streams [][]model.CloudInitEvent
	haveCloudInit := false
	if in.CloudInit != nil {
		events, perrs, err := cloudinit.Parse(in.CloudInit)
		if err != nil {
			return nil, fmt.Errorf("read cloud-init log: %w", err)
		}
		streams = cloudinit.SplitBoots(events)
		haveCloudInit = len(events) > 0
		parseErrs = append(parseErrs, perrs...)
	}

	var unitGraph *graph.Graph
	if in.Units != nil {
		blocks, err := systemd.ParseShow(in.Units)
		if err != nil {
			return nil, err
		}
		unitGraph = graph.Build(systemd.Records(blocks))
	}

	// 3. Segment and select the boot.
	var seg boot.Segment
	segments := boot.SegmentBoots(journalEvents, boot.Options{EndSignatures: opts.EndSignatures})
	rep.Boots = len(segments)
	if len(segments) > 0 {
		seg, err = boot.SelectBoot(segments, opts.Boot)
		if err != nil {
			return nil, fmt.Errorf("select boot: %w", err)
		}
		rep.BootID = seg.BootID
		rep.Boot = summariseBoot(seg)
	}

	// 4. Correlate.
	tl := timeline.Correlate(seg, streams, timeline.Options{AnchorSignatures: opts.AnchorSignatures})
	rep.Anchor = tl.Anchor
	rep.Unanchored = tl.Unanchored
	rep.Intervals = tl.Intervals()
	rep.Gaps = tl.Gaps(opts.GapThreshold)
	if opts.TopGaps > 0 && len(rep.Gaps) > opts.TopGaps {
		rep.Gaps = rep.Gaps[:opts.TopGaps]
	}
	rep.Histogram = computeHistogram(tl.Entries, opts.HistogramInterval)

	// 5. Label.
	events := labelTimeline(tl)
	events = append(events, frameEvents(tl, tl.Frames())...)
	if unitGraph != nil {
		filtered := graph.ApplyFilters(unitGraph, opts.UnitFilters)
		events = append(events, unitEvents(filtered)...)
		rep.Units = summariseUnits(filtered, &tl, opts.RootUnit)
	}
	if !haveCloudInit && m != modeJournal {
		missing := newEvent(LabelCloudInitLogsMissing, model.SourceAnalyze, 0, false)
		missing.Severity = SeverityWarning
		events = append(events, missing)
	}
	for _, pe := range parseErrs {
		ev := newEvent(LabelMalformedRecord, pe.Source, 0, false)
		ev.Line = pe.Line
		ev.Message = pe.Error()
		events = append(events, ev)
	}
	for i := range events {
		events[i].bootID = rep.BootID
	}
	sortEvents(events)

	// 6. Filter.
	rep.Events = make([]Event, 0, len(events))
	for _, ev := range events {
		if len(opts.EventTypes) > 0 && !hasLabel(opts.EventTypes, ev.Label) {
			continue
		}
		if !bootql.Match(query, ev) {
			continue
		}
		rep.Events = append(rep.Events, ev)
	}
	rep.Warnings = []Event{}
	for _, ev := range rep.Events {
		if ev.Severity == SeverityWarning {
			rep.Warnings = append(rep.Warnings, ev)
		}
	}

	rep.Stats = collectStats(tl, rep.Events)
	rep.Stats.ParseErrors = len(parseErrs)
	rep.Stats.CloudInitBoots = len(streams)
	return rep, nil
}

// labelTimeline assigns event-of-interest labels to timeline entries. An
// entry may carry several labels and yields one event per label.
func labelTimeline(tl timeline.Timeline) []Event {
	l := newLabeller()
	var out []Event
	for _, entry := range tl.Entries {
		switch e := entry.Event.(type) {
		case model.JournalEvent:
			for _, label := range l.journal(e) {
				ev := newEvent(label, model.SourceJournal, entry.At, entry.Anchored)
				ev.Unit = e.Unit
				p := e.Priority
				if p != model.PriorityUnknown {
					ev.Priority = &p
				}
				ev.Message = e.Message
				ev.Line = e.Line
				if !e.Realtime.IsZero() {
					ts := e.Realtime
					ev.TimestampRealtime = &ts
				}
				out = append(out, ev)
			}
		case model.CloudInitEvent:
			for _, label := range l.cloudInit(e) {
				ev := newEvent(label, model.SourceCloudInit, entry.At, entry.Anchored)
				ev.Stage = e.Stage
				ev.Module = e.Module
				ev.Result = e.Result
				ev.Message = e.Message
				ev.Line = e.Line
				ts := e.Timestamp
				ev.TimestampRealtime = &ts
				if e.HasDuration {
					secs := round4(e.Duration)
					ev.Duration = &secs
				}
				out = append(out, ev)
			}
		}
	}
	return out
}

// sortEvents orders by time, then journal, cloud-init and derived sources.
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.At != b.At {
			return a.At < b.At
		}
		return a.Source.Priority() < b.Source.Priority()
	})
}

func summariseBoot(seg boot.Segment) *BootSummary {
	start, _ := seg.Offset(seg.Start)
	s := &BootSummary{
		ID:       seg.BootID,
		Start:    seconds(start),
		Complete: seg.Complete(),
		Duration: seconds(seg.Duration()),
		Events:   len(seg.Events),
	}
	if seg.End != nil {
		end, _ := seg.Offset(*seg.End)
		s.End = seconds(end)
	}
	return s
}
