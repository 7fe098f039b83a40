// Package journal parses `journalctl -o json` output into journal events.
package journal

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"github.com/cjp256/lpt/internal/model"
)

// Journal field names read by the parser.
const (
	FieldMessage         = "MESSAGE"
	FieldBootID          = "_BOOT_ID"
	FieldPriority        = "PRIORITY"
	FieldUnit            = "UNIT"
	FieldUserUnit        = "USER_UNIT"
	FieldSystemdUnit     = "_SYSTEMD_UNIT"
	FieldSourceRealtime  = "_SOURCE_REALTIME_TIMESTAMP"
	FieldRealtime        = "__REALTIME_TIMESTAMP"
	FieldSourceMonotonic = "_SOURCE_MONOTONIC_TIMESTAMP"
	FieldMonotonic       = "__MONOTONIC_TIMESTAMP"
)

var parserPool fastjson.ParserPool

// Parse reads the whole stream and parses it with ParseBytes.
func Parse(r io.Reader) ([]model.JournalEvent, []*model.ParseError, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read journal: %w", err)
	}
	events, warnings := ParseBytes(data)
	return events, warnings, nil
}

// ParseBytes parses one JSON object per line. Lines that fail to parse are
// returned as warnings and never stop the rest of the stream.
func ParseBytes(data []byte) ([]model.JournalEvent, []*model.ParseError) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	var (
		events   []model.JournalEvent
		warnings []*model.ParseError
	)
	lineNo := 0
	for len(data) > 0 {
		lineNo++
		line := data
		if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
			line, data = data[:idx], data[idx+1:]
		} else {
			data = nil
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		ev, err := parseLine(p, line, lineNo)
		if err != nil {
			warnings = append(warnings, model.NewParseError(model.SourceJournal, lineNo, string(line), err))
			continue
		}
		events = append(events, ev)
	}
	return events, warnings
}

func parseLine(p *fastjson.Parser, line []byte, lineNo int) (model.JournalEvent, error) {
	v, err := p.ParseBytes(line)
	if err != nil {
		return model.JournalEvent{}, fmt.Errorf("%w: %v", model.ErrMalformedRecord, err)
	}
	obj, err := v.Object()
	if err != nil {
		return model.JournalEvent{}, fmt.Errorf("%w: not a JSON object", model.ErrMalformedRecord)
	}

	fields := make(map[string]string, obj.Len())
	obj.Visit(func(key []byte, val *fastjson.Value) {
		fields[string(key)] = fieldValue(val)
	})

	msg, ok := fields[FieldMessage]
	if !ok {
		return model.JournalEvent{}, fmt.Errorf("%w: %s", model.ErrMissingField, FieldMessage)
	}

	ev := model.JournalEvent{
		BootID:   fields[FieldBootID],
		Priority: model.PriorityUnknown,
		Message:  msg,
		Fields:   fields,
		Line:     lineNo,
		Unit:     firstNonEmpty(fields[FieldUnit], fields[FieldUserUnit], fields[FieldSystemdUnit]),
	}

	if raw := firstNonEmpty(fields[FieldSourceRealtime], fields[FieldRealtime]); raw != "" {
		usec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return model.JournalEvent{}, fmt.Errorf("%w: realtime %q", model.ErrInvalidTimestamp, raw)
		}
		ev.Realtime = time.UnixMicro(usec).UTC()
	}
	if raw := firstNonEmpty(fields[FieldSourceMonotonic], fields[FieldMonotonic]); raw != "" {
		usec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || usec < 0 {
			return model.JournalEvent{}, fmt.Errorf("%w: monotonic %q", model.ErrInvalidTimestamp, raw)
		}
		ev.Monotonic = time.Duration(usec) * time.Microsecond
		ev.HasMonotonic = true
	}
	if ev.Realtime.IsZero() && !ev.HasMonotonic {
		return model.JournalEvent{}, fmt.Errorf("%w: timestamp", model.ErrMissingField)
	}

	if raw := fields[FieldPriority]; raw != "" {
		if prio, err := strconv.Atoi(raw); err == nil && prio >= 0 && prio <= 7 {
			ev.Priority = prio
		}
	}
	return ev, nil
}

// fieldValue flattens a journal field. journald exports non-UTF-8 payloads as
// arrays of byte values.
func fieldValue(v *fastjson.Value) string {
	switch v.Type() {
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeArray:
		arr, _ := v.Array()
		buf := make([]byte, 0, len(arr))
		for _, b := range arr {
			n, err := b.Int()
			if err != nil || n < 0 || n > 255 {
				return v.String()
			}
			buf = append(buf, byte(n))
		}
		return string(buf)
	case fastjson.TypeNull:
		return ""
	default:
		return v.String()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
