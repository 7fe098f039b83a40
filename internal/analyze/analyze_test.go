package analyze

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjp256/lpt/internal/boot"
	"github.com/cjp256/lpt/internal/graph"
	"github.com/cjp256/lpt/internal/model"
	"github.com/cjp256/lpt/internal/pkg/bootql"
	"github.com/cjp256/lpt/internal/timeline"
)

// Boot b1 starts at 2022-10-07 11:47:00 UTC.
const journalFixture = `{"MESSAGE":"Linux version 5.15.0-1019-azure","_BOOT_ID":"b1","PRIORITY":"5","__MONOTONIC_TIMESTAMP":"0","__REALTIME_TIMESTAMP":"1665143220000000"}
{"MESSAGE":"systemd 249.11 running in system mode (+PAM)","_BOOT_ID":"b1","PRIORITY":"6","__MONOTONIC_TIMESTAMP":"2000000","__REALTIME_TIMESTAMP":"1665143222000000"}
{"MESSAGE":"Cloud-init v. 22.3 running 'init-local' at Fri, 07 Oct 2022 11:47:03 +0000. Up 3.00 seconds.","_BOOT_ID":"b1","PRIORITY":"6","__MONOTONIC_TIMESTAMP":"3000000","__REALTIME_TIMESTAMP":"1665143223000000"}
{"MESSAGE":"System clock was stepped by 0.5 seconds","_BOOT_ID":"b1","PRIORITY":"4","UNIT":"chrony.service","__MONOTONIC_TIMESTAMP":"5000000","__REALTIME_TIMESTAMP":"1665143225000000"}
{"MESSAGE":"Startup finished in 1.2s (firmware) + 2s (kernel) + 5s (userspace) = 8s.","_BOOT_ID":"b1","PRIORITY":"6","__MONOTONIC_TIMESTAMP":"8000000","__REALTIME_TIMESTAMP":"1665143228000000"}
`

// The cloud-init clock runs 13 minutes ahead of the journal.
const cloudInitFixture = `2022-10-07 12:00:03,000 - util.py[DEBUG]: Cloud-init v. 22.3 running 'init-local' at Fri, 07 Oct 2022 11:47:03 +0000. Up 3.00 seconds.
2022-10-07 12:00:03,100 - handlers.py[DEBUG]: start: init-local/search-Azure: searching for local data from DataSourceAzure
2022-10-07 12:00:04,100 - handlers.py[DEBUG]: finish: init-local/search-Azure: FAIL: no local data found from DataSourceAzure
2022-10-07 12:00:04,200 - util.py[WARNING]: Failed to read something
`

const unitsFixture = `Id=multi-user.target
ActiveState=active
After=cloud-init-local.service chrony.service broken.service
ActiveEnterTimestampMonotonic=8000000
InactiveExitTimestampMonotonic=7900000

Id=cloud-init-local.service
ActiveState=active
After=systemd-journald.socket
InactiveExitTimestampMonotonic=2900000
ActiveEnterTimestampMonotonic=4300000

Id=chrony.service
ActiveState=active
InactiveExitTimestampMonotonic=4000000
ActiveEnterTimestampMonotonic=4500000

Id=broken.service
ActiveState=failed
Description=Broken thing
InactiveExitTimestampMonotonic=5000000
`

func labels(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Label)
	}
	return out
}

func TestAnalyze_Full(t *testing.T) {
	rep, err := Analyze(Input{
		Journal:   strings.NewReader(journalFixture),
		CloudInit: strings.NewReader(cloudInitFixture),
	}, Options{})
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, "b1", rep.BootID)
	assert.Equal(t, 1, rep.Boots)
	require.NotNil(t, rep.Boot)
	assert.True(t, rep.Boot.Complete)
	assert.Equal(t, 8.0, rep.Boot.End)
	assert.Equal(t, timeline.AnchorSignature, rep.Anchor.Kind)
	assert.False(t, rep.Unanchored)

	assert.Equal(t, []string{
		"KERNEL_BOOT",
		"SYSTEMD_STARTED",
		"CLOUDINIT_RUNNING_INIT_LOCAL",
		"CLOUDINIT_RUNNING_INIT_LOCAL",
		"CLOUDINIT_FRAME_START",
		"CLOUDINIT_FRAME",
		"CLOUDINIT_FRAME_FINISH",
		"WARNING_UNEXPECTED_FAILURE FAIL",
		"WARNING_CLOUDINIT_WARNING",
		"WARNING_CHRONY_SYSTEM_CLOCK_STEPPED",
		"STARTUP_FINISHED",
	}, labels(rep.Events))

	frame := rep.Events[5]
	assert.Equal(t, model.SourceCloudInit, frame.Source)
	assert.Equal(t, 3.1, frame.TimestampMonotonic)
	require.NotNil(t, frame.Duration)
	assert.Equal(t, 1.0, *frame.Duration)
	assert.Equal(t, "FAIL", frame.Result)

	assert.Equal(t, []string{
		"WARNING_UNEXPECTED_FAILURE FAIL",
		"WARNING_CLOUDINIT_WARNING",
		"WARNING_CHRONY_SYSTEM_CLOCK_STEPPED",
	}, labels(rep.Warnings))

	assert.Equal(t, 9, rep.Stats.TotalEvents)
	assert.Equal(t, 5, rep.Stats.SourceCounts[model.SourceJournal])
	assert.Equal(t, 4, rep.Stats.SourceCounts[model.SourceCloudInit])
	assert.Equal(t, 1, rep.Stats.PriorityDist["WARNING"])
	assert.Equal(t, 1, rep.Stats.TopUnits["chrony.service"])
	assert.Equal(t, 1, rep.Stats.CloudInitBoots)
	assert.Empty(t, rep.Units)

	for _, g := range rep.Gaps {
		assert.GreaterOrEqual(t, g.Duration, timeline.DefaultGapThreshold)
	}
}

func TestAnalyze_EventTypesAndQuery(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "event types",
			opts: Options{EventTypes: []string{"kernel_boot", "STARTUP_FINISHED"}},
			want: []string{"KERNEL_BOOT", "STARTUP_FINISHED"},
		},
		{
			name: "query on source and severity",
			opts: Options{Query: "source:journal AND severity:warning"},
			want: []string{"WARNING_CHRONY_SYSTEM_CLOCK_STEPPED"},
		},
		{
			name: "query on time",
			opts: Options{Query: "at>=5"},
			want: []string{"WARNING_CHRONY_SYSTEM_CLOCK_STEPPED", "STARTUP_FINISHED"},
		},
		{
			name: "query glob",
			opts: Options{Query: "source:cloudinit label:CLOUDINIT_FRAME*"},
			want: []string{"CLOUDINIT_FRAME_START", "CLOUDINIT_FRAME", "CLOUDINIT_FRAME_FINISH"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := Analyze(Input{
				Journal:   strings.NewReader(journalFixture),
				CloudInit: strings.NewReader(cloudInitFixture),
			}, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, labels(rep.Events))
		})
	}
}

func TestAnalyze_BadQuery(t *testing.T) {
	_, err := Analyze(Input{}, Options{Query: "label:("})
	require.Error(t, err)
	assert.True(t, errors.Is(err, bootql.ErrSyntax))
}

func TestAnalyze_UnknownBoot(t *testing.T) {
	_, err := Analyze(Input{Journal: strings.NewReader(journalFixture)}, Options{Boot: boot.ByID("nope")})
	assert.True(t, errors.Is(err, boot.ErrUnknownBoot))
}

func TestAnalyze_CloudInitMissing(t *testing.T) {
	rep, err := Analyze(Input{Journal: strings.NewReader(journalFixture)}, Options{})
	require.NoError(t, err)
	assert.Contains(t, labels(rep.Warnings), LabelCloudInitLogsMissing)

	rep, err = AnalyzeJournal(strings.NewReader(journalFixture), Options{})
	require.NoError(t, err)
	assert.NotContains(t, labels(rep.Events), LabelCloudInitLogsMissing)
}

func TestAnalyze_MalformedRecords(t *testing.T) {
	input := journalFixture + "garbage\n"
	rep, err := AnalyzeJournal(strings.NewReader(input), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Stats.ParseErrors)
	require.Contains(t, labels(rep.Warnings), LabelMalformedRecord)
	for _, w := range rep.Warnings {
		if w.Label == LabelMalformedRecord {
			assert.Equal(t, 6, w.Line)
			assert.Equal(t, model.SourceJournal, w.Source)
		}
	}
}

func TestAnalyzeCloudInit(t *testing.T) {
	rep, err := AnalyzeCloudInit(strings.NewReader(cloudInitFixture), Options{})
	require.NoError(t, err)

	// The banner's uptime places records on the boot clock without a journal.
	assert.Equal(t, timeline.AnchorUptime, rep.Anchor.Kind)
	assert.False(t, rep.Unanchored)
	assert.Nil(t, rep.Boot)
	require.NotEmpty(t, rep.Events)
	assert.Equal(t, "CLOUDINIT_RUNNING_INIT_LOCAL", rep.Events[0].Label)
	assert.Equal(t, 3.0, rep.Events[0].TimestampMonotonic)
	assert.True(t, rep.Events[0].Anchored)
	assert.NotContains(t, labels(rep.Events), LabelCloudInitLogsMissing)
}

func TestAnalyze_Empty(t *testing.T) {
	rep, err := Analyze(Input{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Boots)
	assert.Empty(t, rep.Intervals)
	assert.Equal(t, []string{LabelCloudInitLogsMissing}, labels(rep.Events))
	assert.Equal(t, []string{LabelCloudInitLogsMissing}, labels(rep.Warnings))
}

func TestAnalyze_Units(t *testing.T) {
	rep, err := Analyze(Input{
		Journal:   strings.NewReader(journalFixture),
		CloudInit: strings.NewReader(cloudInitFixture),
		Units:     strings.NewReader(unitsFixture),
	}, Options{})
	require.NoError(t, err)

	root, ok := rep.Units["multi-user.target"]
	require.True(t, ok)
	assert.Equal(t, []string{"chrony.service", "cloud-init-local.service"}, root.Dependencies, "failed units are not walked")
	assert.Equal(t, 8.0, root.Finished)
	assert.Equal(t, 0.1, root.Duration)

	ci := rep.Units["cloud-init-local.service"]
	assert.Equal(t, []string{"init-local/search-Azure"}, ci.Dependencies)

	frame := rep.Units["init-local/search-Azure"]
	assert.True(t, frame.Failed)
	assert.Equal(t, 1.0, frame.Duration)
	assert.Equal(t, 4.1, frame.Finished)

	var failed []Event
	for _, ev := range rep.Events {
		if ev.Label == LabelUnitFailed {
			failed = append(failed, ev)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, "broken.service", failed[0].Unit)
	assert.Equal(t, 5*time.Second, failed[0].At)
}

func TestGraph(t *testing.T) {
	records := []graph.Record{
		{Name: "a.service", Relations: map[graph.Relation][]string{graph.RelationAfter: {"b.service"}}},
		{Name: "b.service", Relations: map[graph.Relation][]string{graph.RelationAfter: {"c.service"}}},
		{Name: "d.service", Relations: map[graph.Relation][]string{graph.RelationWants: {"a.service"}}},
	}

	rep, err := Graph(records, GraphOptions{Unit: "a.service", Direction: graph.DirectionDependencies, Depth: -1})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Graph.NodeCount())
	assert.Equal(t, 2, rep.Graph.EdgeCount())

	f, err := graph.ParseFilter("unit:c.*")
	require.NoError(t, err)
	rep, err = Graph(records, GraphOptions{Unit: "a.service", Direction: graph.DirectionBoth, Depth: -1, Filters: []graph.Filter{f}})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Graph.NodeCount(), "a, b and d")
	assert.Equal(t, []string{"unit:c.*"}, rep.Filters)

	_, err = Graph(records, GraphOptions{Unit: "missing.service"})
	assert.True(t, errors.Is(err, graph.ErrNodeNotFound))
}

func TestGraphShow_DOT(t *testing.T) {
	input := "UserspaceTimestampMonotonic=2000000\nFinishTimestampMonotonic=8000000\n\n" + unitsFixture
	rep, err := GraphShow(strings.NewReader(input), GraphOptions{Unit: "multi-user.target", Depth: 1})
	require.NoError(t, err)
	require.NotNil(t, rep.Manager)
	assert.Equal(t, 2*time.Second, rep.Manager.Userspace)

	var buf bytes.Buffer
	require.NoError(t, rep.WriteDOT(&buf))
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, `digraph "multi-user.target" {`))
	assert.Contains(t, out, `label="multi-user.target (+0.10s @6.00s)"`)
	assert.Contains(t, out, `"multi-user.target"->"chrony.service"`)
	assert.Contains(t, out, `*FAILED*`)
}

func TestGraphShow_MirroredOrdering(t *testing.T) {
	input := `Id=ssh.service
ActiveState=active
After=network.target
Before=multi-user.target

Id=network.target
ActiveState=active
Before=ssh.service

Id=multi-user.target
ActiveState=active
After=ssh.service
Before=graphical.target

Id=graphical.target
ActiveState=active
After=multi-user.target
`
	rep, err := GraphShow(strings.NewReader(input), GraphOptions{
		Unit:      "ssh.service",
		Direction: graph.DirectionDependencies,
		Depth:     -1,
	})
	require.NoError(t, err)

	var names []string
	for _, n := range rep.Graph.Nodes() {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"network.target", "ssh.service"}, names)
}
