// Package cloudinit parses /var/log/cloud-init.log.
package cloudinit

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cjp256/lpt/internal/model"
)

// timestampLayout matches "2022-10-07 11:47:53,209" once the comma is replaced.
const timestampLayout = "2006-01-02 15:04:05.000"

var (
	lineRe      = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:[,.]\d+)?) - ([^\[\]]+)\[([A-Za-z]+)\]: ?(.*)$`)
	uptimeRe    = regexp.MustCompile(`\bUp (\d+(?:\.\d+)?) seconds`)
	runningRe   = regexp.MustCompile(`Cloud-init v\. \S+ running '([a-z:-]+)'`)
	bootStartRe = regexp.MustCompile(`Cloud-init v\. \S+ running 'init-local'`)
)

// runningStages maps the "running '<mode>'" banner to the stage it opens.
var runningStages = map[string]string{
	"init-local":     model.StageInitLocal,
	"init":           model.StageInitNetwork,
	"modules:config": model.StageModulesConfig,
	"modules:final":  model.StageModulesFinal,
}

// Parse reads the whole stream and parses it with ParseLines.
func Parse(r io.Reader) ([]model.CloudInitEvent, []*model.ParseError, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read cloud-init log: %w", err)
	}
	events, warnings := ParseLines(lines)
	return events, warnings, nil
}

// ParseLines parses cloud-init log lines in order. Records without a stage of
// their own inherit the most recent stage; a new boot banner resets it.
// Lines that do not match the log format are returned as warnings.
func ParseLines(lines []string) ([]model.CloudInitEvent, []*model.ParseError) {
	var (
		events    []model.CloudInitEvent
		warnings  []*model.ParseError
		lastStage = model.StageInitLocal
	)
	for i, line := range lines {
		lineNo := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}
		ev, err := ParseLine(line)
		if err != nil {
			warnings = append(warnings, model.NewParseError(model.SourceCloudInit, lineNo, line, err))
			continue
		}
		ev.Line = lineNo

		if IsBootStart(ev) {
			lastStage = model.StageInitLocal
		}
		if m := runningRe.FindStringSubmatch(ev.Message); m != nil {
			if stage, ok := runningStages[m[1]]; ok {
				lastStage = stage
			}
		}
		if ev.Stage != "" {
			lastStage = ev.Stage
		} else {
			ev.Stage = lastStage
		}
		events = append(events, ev)
	}
	return events, warnings
}

// ParseLine parses a single record. Stage is left empty when the record does
// not name one itself.
func ParseLine(line string) (model.CloudInitEvent, error) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return model.CloudInitEvent{}, fmt.Errorf("%w: unrecognised line format", model.ErrMalformedRecord)
	}

	ts, err := time.ParseInLocation(timestampLayout, normaliseTimestamp(m[1]), time.UTC)
	if err != nil {
		return model.CloudInitEvent{}, fmt.Errorf("%w: %q", model.ErrInvalidTimestamp, m[1])
	}

	ev := model.CloudInitEvent{
		Timestamp: ts,
		Type:      model.CloudInitLog,
		Logger:    m[2],
		Level:     strings.ToUpper(m[3]),
		Message:   m[4],
		Raw:       line,
	}

	switch {
	case strings.HasPrefix(ev.Message, "finish: "):
		parts := strings.SplitN(ev.Message, ": ", 4)
		if len(parts) < 3 || parts[1] == "" || parts[2] == "" {
			return model.CloudInitEvent{}, fmt.Errorf("%w: finish event without result", model.ErrMissingField)
		}
		ev.Type = model.CloudInitFinish
		ev.Stage, ev.Module = splitName(parts[1])
		ev.Result = parts[2]
		ev.Message = ""
		if len(parts) == 4 {
			ev.Message = parts[3]
		}
	case strings.HasPrefix(ev.Message, "start: "):
		parts := strings.SplitN(ev.Message, ": ", 3)
		name := strings.TrimSuffix(parts[1], ":")
		if name == "" {
			return model.CloudInitEvent{}, fmt.Errorf("%w: start event without name", model.ErrMissingField)
		}
		ev.Type = model.CloudInitStart
		ev.Stage, ev.Module = splitName(name)
		ev.Message = ""
		if len(parts) == 3 {
			ev.Message = parts[2]
		}
	}

	if um := uptimeRe.FindStringSubmatch(ev.Message); um != nil {
		if secs, err := strconv.ParseFloat(um[1], 64); err == nil {
			ev.Uptime = time.Duration(math.Round(secs*1e6)) * time.Microsecond
			ev.HasUptime = true
		}
	}
	return ev, nil
}

// IsBootStart reports whether the record is the banner cloud-init writes at
// the start of every boot.
func IsBootStart(ev model.CloudInitEvent) bool {
	return bootStartRe.MatchString(ev.Message)
}

// splitName separates a known stage prefix from the module path. Names that
// do not start with a stage are returned whole as the module.
func splitName(name string) (stage, module string) {
	for _, s := range model.Stages {
		if name == s {
			return s, ""
		}
		if strings.HasPrefix(name, s+"/") {
			return s, name[len(s)+1:]
		}
	}
	return "", name
}

func normaliseTimestamp(ts string) string {
	ts = strings.Replace(ts, ",", ".", 1)
	if !strings.Contains(ts, ".") {
		return ts + ".000"
	}
	// Pad or trim to milliseconds to match timestampLayout.
	dot := strings.IndexByte(ts, '.')
	frac := ts[dot+1:]
	switch {
	case len(frac) < 3:
		frac += strings.Repeat("0", 3-len(frac))
	case len(frac) > 3:
		frac = frac[:3]
	}
	return ts[:dot+1] + frac
}

// SplitBoots splits a log that accumulated several boots, starting a new
// group at every boot banner. Groups keep input order, most recent last.
func SplitBoots(events []model.CloudInitEvent) [][]model.CloudInitEvent {
	var (
		boots   [][]model.CloudInitEvent
		current []model.CloudInitEvent
	)
	for _, ev := range events {
		if IsBootStart(ev) && len(current) > 0 {
			boots = append(boots, current)
			current = nil
		}
		current = append(current, ev)
	}
	if len(current) > 0 {
		boots = append(boots, current)
	}
	return boots
}
