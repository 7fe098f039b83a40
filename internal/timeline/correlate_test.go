package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjp256/lpt/internal/boot"
	"github.com/cjp256/lpt/internal/model"
)

var base = time.Date(2022, 10, 7, 11, 47, 0, 0, time.UTC)

func jev(mono time.Duration, msg string) model.JournalEvent {
	return model.JournalEvent{
		BootID:       "abc",
		Monotonic:    mono,
		HasMonotonic: true,
		Realtime:     base.Add(mono),
		Priority:     6,
		Message:      msg,
	}
}

// monoOnly drops the wall clock so the host clock cannot anchor.
func monoOnly(e model.JournalEvent) model.JournalEvent {
	e.Realtime = time.Time{}
	return e
}

func cev(ts time.Time, typ model.CloudInitEventType, stage, module, msg string) model.CloudInitEvent {
	return model.CloudInitEvent{
		Stage:     stage,
		Module:    module,
		Timestamp: ts,
		Type:      typ,
		Level:     "DEBUG",
		Logger:    "handlers.py",
		Message:   msg,
	}
}

func segment(t *testing.T, events ...model.JournalEvent) boot.Segment {
	t.Helper()
	segs := boot.SegmentBoots(events, boot.Options{})
	require.Len(t, segs, 1)
	return segs[0]
}

func TestCorrelate_KernelCloudInitTarget(t *testing.T) {
	seg := segment(t,
		jev(0, "kernel start"),
		jev(12400*time.Millisecond, "reached graphical.target"),
	)
	ci := []model.CloudInitEvent{
		cev(base.Add(1200*time.Millisecond), model.CloudInitStart, model.StageInitLocal, "", "init-local start"),
	}

	tl := Correlate(seg, [][]model.CloudInitEvent{ci}, Options{})

	require.Len(t, tl.Entries, 3)
	assert.Equal(t, "kernel start", tl.Entries[0].Event.Text())
	assert.Equal(t, "init-local start", tl.Entries[1].Event.Text())
	assert.Equal(t, 1200*time.Millisecond, tl.Entries[1].At)
	assert.Equal(t, "reached graphical.target", tl.Entries[2].Event.Text())
	assert.Equal(t, AnchorHostClock, tl.Anchor.Kind)
	assert.False(t, tl.Unanchored)

	var ciIntervals []Interval
	for _, iv := range tl.Intervals() {
		if iv.Source == model.SourceCloudInit {
			ciIntervals = append(ciIntervals, iv)
		}
	}
	require.Len(t, ciIntervals, 1)
	assert.Equal(t, "init-local", ciIntervals[0].Label)
	assert.True(t, ciIntervals[0].Open)
	assert.Equal(t, ResultIncomplete, ciIntervals[0].Result)
	assert.Equal(t, 1200*time.Millisecond, ciIntervals[0].Start)
	assert.Equal(t, 12400*time.Millisecond, ciIntervals[0].End)
}

func TestCorrelate_SignatureAnchor(t *testing.T) {
	banner := "Cloud-init v. 22.2 running 'init-local' at Fri, 07 Oct 2022 11:47:05 +0000. Up 5.50 seconds."
	seg := segment(t,
		jev(0, "Linux version 5.15.0"),
		jev(5600*time.Millisecond, banner),
		jev(9*time.Second, "Startup finished in 9s"),
	)
	// cloud-init logs in a different zone than the journal.
	ciBase := base.Add(2 * time.Hour)
	ci := []model.CloudInitEvent{
		cev(ciBase.Add(5500*time.Millisecond), model.CloudInitLog, model.StageInitLocal, "", "PID [1] started cloud-init 'init-local'."),
		cev(ciBase.Add(5700*time.Millisecond), model.CloudInitLog, model.StageInitLocal, "", banner),
		cev(ciBase.Add(6700*time.Millisecond), model.CloudInitStart, model.StageInitLocal, "", "searching for local data"),
	}

	tl := Correlate(seg, [][]model.CloudInitEvent{ci}, Options{})
	assert.Equal(t, AnchorSignature, tl.Anchor.Kind)

	var ats []time.Duration
	for _, e := range tl.Entries {
		if e.Source == model.SourceCloudInit {
			ats = append(ats, e.At)
		}
	}
	assert.Equal(t, []time.Duration{5400 * time.Millisecond, 5600 * time.Millisecond, 6600 * time.Millisecond}, ats)
}

func TestCorrelate_UptimeAnchor(t *testing.T) {
	seg := segment(t,
		monoOnly(jev(0, "Linux version 5.15.0")),
		monoOnly(jev(8*time.Second, "Reached target Multi-User System.")),
	)
	wall := base.Add(-3 * time.Hour)
	first := cev(wall, model.CloudInitLog, model.StageInitLocal, "", "Cloud-init v. 22.2 running 'init-local'. Up 5.50 seconds.")
	first.Uptime = 5500 * time.Millisecond
	first.HasUptime = true
	ci := []model.CloudInitEvent{
		first,
		cev(wall.Add(time.Second), model.CloudInitLog, model.StageInitLocal, "", "later"),
	}

	tl := Correlate(seg, [][]model.CloudInitEvent{ci}, Options{})
	assert.Equal(t, AnchorUptime, tl.Anchor.Kind)
	require.Len(t, tl.Entries, 4)
	assert.Equal(t, "later", tl.Entries[2].Event.Text())
	assert.Equal(t, 6500*time.Millisecond, tl.Entries[2].At)
}

func TestCorrelate_LaterSignatureMissingFromCloudInit(t *testing.T) {
	seg := segment(t,
		monoOnly(jev(0, "Linux version 5.15.0")),
		monoOnly(jev(20*time.Second, "Cloud-init v. 22.2 running 'modules:final' at Fri, 07 Oct 2022 11:47:20 +0000. Up 20.00 seconds.")),
	)
	wall := base.Add(-3 * time.Hour)
	first := cev(wall, model.CloudInitLog, model.StageInitLocal, "", "PID [1] started cloud-init 'init-local'. Up 5.50 seconds.")
	first.Uptime = 5500 * time.Millisecond
	first.HasUptime = true

	tl := Correlate(seg, [][]model.CloudInitEvent{{first}}, Options{})
	assert.Equal(t, AnchorUptime, tl.Anchor.Kind)
	require.Len(t, tl.Entries, 3)
	assert.Equal(t, 5500*time.Millisecond, tl.Entries[1].At)
}

func TestCorrelate_Unanchored(t *testing.T) {
	seg := segment(t,
		monoOnly(jev(0, "Linux version 5.15.0")),
		monoOnly(jev(30*time.Second, "Reached target Multi-User System.")),
	)
	wall := base.Add(-24 * time.Hour)
	ci := []model.CloudInitEvent{
		cev(wall, model.CloudInitStart, model.StageInitLocal, "", "searching"),
		cev(wall.Add(2*time.Second), model.CloudInitFinish, model.StageInitLocal, "", "searching"),
	}
	ci[1].Result = "SUCCESS"

	tl := Correlate(seg, [][]model.CloudInitEvent{ci}, Options{})

	assert.True(t, tl.Unanchored)
	assert.Equal(t, AnchorNone, tl.Anchor.Kind)
	require.Len(t, tl.Entries, 4)
	assert.Equal(t, model.SourceJournal, tl.Entries[1].Source, "cloud-init entries follow the journal")
	assert.Equal(t, model.SourceCloudInit, tl.Entries[2].Source)
	assert.False(t, tl.Entries[2].Anchored)
	assert.Equal(t, time.Duration(0), tl.Entries[2].At)
	assert.Equal(t, 2*time.Second, tl.Entries[3].At)

	for _, iv := range tl.Intervals() {
		if iv.Source == model.SourceCloudInit {
			assert.False(t, iv.Anchored)
			assert.Equal(t, 2*time.Second, iv.Duration())
		}
	}
}

func TestCorrelate_Deterministic(t *testing.T) {
	seg := segment(t,
		jev(0, "Linux version 5.15.0"),
		jev(time.Second, "tie"),
		jev(4*time.Second, "Startup finished in 4s"),
	)
	ci := []model.CloudInitEvent{
		cev(base.Add(time.Second), model.CloudInitLog, model.StageInitNetwork, "", "network tie"),
		cev(base.Add(time.Second), model.CloudInitLog, model.StageInitLocal, "", "local tie"),
	}

	a := Correlate(seg, [][]model.CloudInitEvent{ci}, Options{})
	b := Correlate(seg, [][]model.CloudInitEvent{ci}, Options{})
	assert.Equal(t, a, b)

	require.Len(t, a.Entries, 5)
	assert.Equal(t, "tie", a.Entries[1].Event.Text(), "journal wins ties")
	assert.Equal(t, "local tie", a.Entries[2].Event.Text(), "then stage order")
	assert.Equal(t, "network tie", a.Entries[3].Event.Text())

	for i := 1; i < len(a.Entries); i++ {
		assert.LessOrEqual(t, a.Entries[i-1].At, a.Entries[i].At)
	}
}

func TestCorrelate_PicksOverlappingStream(t *testing.T) {
	seg := segment(t,
		jev(0, "Linux version 5.15.0"),
		jev(10*time.Second, "Startup finished in 10s"),
	)
	old := []model.CloudInitEvent{cev(base.Add(-48*time.Hour), model.CloudInitLog, model.StageInitLocal, "", "old boot")}
	current := []model.CloudInitEvent{cev(base.Add(2*time.Second), model.CloudInitLog, model.StageInitLocal, "", "this boot")}
	later := []model.CloudInitEvent{cev(base.Add(48*time.Hour), model.CloudInitLog, model.StageInitLocal, "", "next boot")}

	tl := Correlate(seg, [][]model.CloudInitEvent{old, current, later}, Options{})
	require.Len(t, tl.Entries, 3)
	assert.Equal(t, "this boot", tl.Entries[1].Event.Text())
}

func TestCorrelate_NoCloudInit(t *testing.T) {
	seg := segment(t, jev(0, "Linux version 5.15.0"))
	tl := Correlate(seg, nil, Options{})
	assert.Len(t, tl.Entries, 1)
	assert.False(t, tl.Unanchored)
	assert.Equal(t, AnchorNone, tl.Anchor.Kind)
}

func TestCorrelate_EmptySegment(t *testing.T) {
	tl := Correlate(boot.Segment{}, nil, Options{})
	assert.Empty(t, tl.Entries)
	assert.Empty(t, tl.Intervals())
	assert.Empty(t, tl.Gaps(0))
}

func TestIntervals_UnitActivations(t *testing.T) {
	starting := jev(3*time.Second, "Starting OpenBSD Secure Shell server...")
	starting.Fields = map[string]string{"UNIT": "ssh.service"}
	started := jev(4*time.Second, "Started OpenBSD Secure Shell server.")
	started.Fields = map[string]string{"UNIT": "ssh.service"}

	seg := segment(t,
		jev(0, "Linux version 5.15.0"),
		starting,
		jev(5*time.Second, "Starting Hang Forever..."),
		started,
		jev(6*time.Second, "Starting Broken Thing..."),
		jev(7*time.Second, "Failed to start Broken Thing."),
	)
	tl := Correlate(seg, nil, Options{})

	byLabel := map[string]Interval{}
	for _, iv := range tl.Intervals() {
		byLabel[iv.Label] = iv
	}

	ssh := byLabel["ssh.service"]
	assert.Equal(t, ResultSuccess, ssh.Result)
	assert.Equal(t, time.Second, ssh.Duration())

	hang := byLabel["Hang Forever"]
	assert.True(t, hang.Open)
	assert.Equal(t, 7*time.Second, hang.End)

	assert.Equal(t, ResultFail, byLabel["Broken Thing"].Result)

	bootIv := byLabel[BootLabel]
	assert.True(t, bootIv.Open, "no end marker")

	first, last := tl.Entries[0].At, tl.Entries[len(tl.Entries)-1].At
	for _, iv := range tl.Intervals() {
		assert.GreaterOrEqual(t, iv.Start, first, iv.Label)
		assert.LessOrEqual(t, iv.End, last, iv.Label)
	}
}

func TestGaps(t *testing.T) {
	seg := segment(t,
		jev(0, "Linux version 5.15.0"),
		jev(1200*time.Millisecond, "a"),
		jev(1300*time.Millisecond, "b"),
		jev(12400*time.Millisecond, "c"),
	)
	tl := Correlate(seg, nil, Options{})

	gaps := tl.Gaps(0)
	require.Len(t, gaps, 2)
	assert.Equal(t, 11100*time.Millisecond, gaps[0].Duration)
	assert.Equal(t, "b", gaps[0].Before)
	assert.Equal(t, "c", gaps[0].After)
	assert.Equal(t, 1200*time.Millisecond, gaps[1].Duration)

	assert.Len(t, tl.Gaps(5*time.Second), 1)
}
