package main

import (
	"bytes"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/cjp256/lpt/internal/analyze"
	"github.com/cjp256/lpt/internal/boot"
	"github.com/cjp256/lpt/internal/collect"
	"github.com/cjp256/lpt/internal/graph"
)

type analyzeMode int

const (
	modeAll analyzeMode = iota
	modeCloudInit
	modeJournal
)

var analyzeUse = map[analyzeMode]struct{ use, short string }{
	modeAll:       {"analyze", "Analyze the journal, cloud-init log and units of one boot"},
	modeCloudInit: {"analyze-cloudinit", "Analyze the cloud-init log alone"},
	modeJournal:   {"analyze-journal", "Analyze the journal alone"},
}

type analyzeFlags struct {
	target           targetFlags
	boot             string
	journalPath      string
	cloudInitLogPath string
	systemdPath      string
	eventTypes       []string
	query            string
}

func newAnalyzeCmd(a *app, mode analyzeMode) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   analyzeUse[mode].use,
		Short: analyzeUse[mode].short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAnalyze(cmd, mode, f)
		},
	}

	fl := cmd.Flags()
	f.target.register(cmd)
	fl.StringVar(&f.boot, "boot", "", `Boot to analyze: "latest", an offset (0 latest, -1 the one before, 1 the oldest) or a boot id`)
	fl.StringSliceVar(&f.eventTypes, "event-type", nil, "Only report events with these labels (repeatable)")
	fl.StringVar(&f.query, "query", "", `Filter events, e.g. 'source:journal AND priority<=3'`)
	if mode != modeCloudInit {
		fl.StringVar(&f.journalPath, "journal-path", "", "Saved journalctl -o json output, or a journal directory")
	}
	if mode != modeJournal {
		fl.StringVar(&f.cloudInitLogPath, "cloudinit-log-path", "", "cloud-init log (default /var/log/cloud-init.log)")
	}
	if mode == modeAll {
		fl.StringVar(&f.systemdPath, "systemd-path", "", "Saved systemctl show output")
	}
	return cmd
}

func (a *app) runAnalyze(cmd *cobra.Command, mode analyzeMode, f analyzeFlags) error {
	ctx := cmd.Context()

	sel, err := boot.ParseSelector(f.boot)
	if err != nil {
		return err
	}
	opts, err := a.analyzeOptions(sel, f)
	if err != nil {
		return err
	}

	journalPath := firstNonEmpty(f.journalPath, a.cfg.JournalPath)
	systemdPath := firstNonEmpty(f.systemdPath, a.cfg.SystemdPath)
	req := collect.Request{
		Journal:          mode != modeCloudInit,
		CloudInit:        mode != modeJournal,
		JournalPath:      journalPath,
		CloudInitLogPath: firstNonEmpty(f.cloudInitLogPath, a.cfg.CloudInitLogPath),
		SystemdPath:      systemdPath,
	}
	// Live unit state only describes the current boot, so it is skipped
	// when the journal comes from a capture.
	req.Units = mode == modeAll && (systemdPath != "" || journalPath == "" || f.target.sshHost != "")

	c, cleanup, err := a.collector(ctx, f.target)
	if err != nil {
		return err
	}
	capture, err := c.Collect(ctx, req)
	if cerr := cleanup(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	var rep *analyze.Report
	switch mode {
	case modeJournal:
		rep, err = analyze.AnalyzeJournal(bytes.NewReader(capture.Journal), opts)
	case modeCloudInit:
		rep, err = analyze.AnalyzeCloudInit(reader(capture.CloudInit), opts)
	default:
		rep, err = analyze.Analyze(analyze.Input{
			Journal:   reader(capture.Journal),
			CloudInit: reader(capture.CloudInit),
			Units:     reader(capture.Units),
		}, opts)
	}
	if err != nil {
		return err
	}
	a.log.Info("analysis complete",
		"boot", rep.BootID,
		"events", len(rep.Events),
		"warnings", len(rep.Warnings),
		"anchor", rep.Anchor.Kind)
	return a.writeJSON(rep)
}

func (a *app) analyzeOptions(sel boot.Selector, f analyzeFlags) (analyze.Options, error) {
	ends, err := a.cfg.EndSignatures()
	if err != nil {
		return analyze.Options{}, err
	}
	anchors, err := a.cfg.AnchorSignatures()
	if err != nil {
		return analyze.Options{}, err
	}
	filters, err := parseFilters(a.cfg.Graph.Filters)
	if err != nil {
		return analyze.Options{}, err
	}
	return analyze.Options{
		Boot:              sel,
		EndSignatures:     ends,
		AnchorSignatures:  anchors,
		GapThreshold:      a.cfg.Timeline.GapThreshold.Std(),
		TopGaps:           a.cfg.Timeline.TopGaps,
		HistogramInterval: a.cfg.Timeline.HistogramInterval.Std(),
		EventTypes:        f.eventTypes,
		Query:             f.query,
		RootUnit:          a.cfg.Graph.RootUnit,
		UnitFilters:       filters,
	}, nil
}

func parseFilters(specs []string) ([]graph.Filter, error) {
	var errs []error
	filters := make([]graph.Filter, 0, len(specs))
	for _, s := range specs {
		f, err := graph.ParseFilter(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		filters = append(filters, f)
	}
	return filters, errors.Join(errs...)
}

// reader returns nil for absent data so the analysis treats it as missing.
func reader(data []byte) io.Reader {
	if data == nil {
		return nil
	}
	return bytes.NewReader(data)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
