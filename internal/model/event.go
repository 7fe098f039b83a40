package model

import "time"

// Source tags which log an event was parsed from.
type Source string

const (
	SourceJournal   Source = "journal"
	SourceCloudInit Source = "cloudinit"

	// Derived sources: unit state reported by systemd, and findings of the
	// analysis itself.
	SourceSystemd Source = "systemd"
	SourceAnalyze Source = "analyze"
)

// Priority reports the ordering rank of the source when two events share an
// aligned timestamp. Journal entries sort before cloud-init entries.
func (s Source) Priority() int {
	switch s {
	case SourceJournal:
		return 0
	case SourceCloudInit:
		return 1
	default:
		return 2
	}
}

// Event is the closed set of event kinds a timeline can hold.
// Only JournalEvent and CloudInitEvent implement it.
type Event interface {
	Source() Source
	Text() string
	event() // marker method
}

// PriorityUnknown marks a journal entry without a PRIORITY field.
const PriorityUnknown = -1

// JournalEvent is a single systemd journal entry.
// Monotonic is the time since boot and is only meaningful when HasMonotonic
// is set. Realtime is the zero time when the entry carried no wall clock.
type JournalEvent struct {
	BootID       string            `json:"boot_id"`
	Monotonic    time.Duration     `json:"monotonic"`
	HasMonotonic bool              `json:"has_monotonic"`
	Realtime     time.Time         `json:"realtime"`
	Unit         string            `json:"unit,omitempty"`
	Priority     int               `json:"priority"`
	Message      string            `json:"message"`
	Fields       map[string]string `json:"-"`
	Line         int               `json:"line"`
}

func (JournalEvent) event() {}

// Source implements Event.
func (JournalEvent) Source() Source { return SourceJournal }

// Text implements Event.
func (e JournalEvent) Text() string { return e.Message }

// Field returns a raw journal field, or "" when absent.
func (e JournalEvent) Field(name string) string {
	return e.Fields[name]
}

// CloudInitEventType is the kind of a cloud-init log record.
type CloudInitEventType string

const (
	CloudInitStart  CloudInitEventType = "start"
	CloudInitFinish CloudInitEventType = "finish"
	CloudInitLog    CloudInitEventType = "log"
)

// Cloud-init stages in declaration order.
const (
	StageInitLocal     = "init-local"
	StageInitNetwork   = "init-network"
	StageModulesConfig = "modules-config"
	StageModulesFinal  = "modules-final"
)

// Stages lists the cloud-init stages in the order they run.
var Stages = []string{StageInitLocal, StageInitNetwork, StageModulesConfig, StageModulesFinal}

// StageOrder returns the declaration index of a stage. Unknown stages sort last.
func StageOrder(stage string) int {
	for i, s := range Stages {
		if s == stage {
			return i
		}
	}
	return len(Stages)
}

// CloudInitEvent is one record of /var/log/cloud-init.log.
// Timestamp is host wall clock time; the log carries no zone and is read as UTC.
type CloudInitEvent struct {
	Stage       string             `json:"stage"`
	Module      string             `json:"module,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Type        CloudInitEventType `json:"event_type"`
	Result      string             `json:"result,omitempty"`
	Duration    time.Duration      `json:"duration,omitempty"`
	HasDuration bool               `json:"-"`
	Level       string             `json:"level"`
	Logger      string             `json:"logger"`
	Message     string             `json:"message"`
	Uptime      time.Duration      `json:"-"`
	HasUptime   bool               `json:"-"`
	Raw         string             `json:"-"`
	Line        int                `json:"line"`
}

func (CloudInitEvent) event() {}

// Source implements Event.
func (CloudInitEvent) Source() Source { return SourceCloudInit }

// Text implements Event.
func (e CloudInitEvent) Text() string { return e.Message }

// Name is the frame label, "stage/module" or just the stage.
func (e CloudInitEvent) Name() string {
	if e.Module == "" {
		return e.Stage
	}
	return e.Stage + "/" + e.Module
}
