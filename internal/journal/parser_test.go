package journal

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjp256/lpt/internal/model"
)

func TestParseBytes_SkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"MESSAGE":"Linux version 5.15.0","_BOOT_ID":"abc","__MONOTONIC_TIMESTAMP":"0","__REALTIME_TIMESTAMP":"1665143273000000"}`,
		`{"MESSAGE":"one","_BOOT_ID":"abc","__MONOTONIC_TIMESTAMP":"1000000"}`,
		`not a journal entry`,
		`{"MESSAGE":"two","_BOOT_ID":"abc","__MONOTONIC_TIMESTAMP":"2000000"}`,
		`{"MESSAGE":"three","_BOOT_ID":"abc","__MONOTONIC_TIMESTAMP":"3000000"}`,
		`{"MESSAGE":"four","_BOOT_ID":"abc","__MONOTONIC_TIMESTAMP":"4000000"}`,
	}, "\n")

	events, warnings := ParseBytes([]byte(input))

	assert.Len(t, events, 5)
	require.Len(t, warnings, 1)
	assert.Equal(t, 3, warnings[0].Line)
	assert.True(t, errors.Is(warnings[0], model.ErrMalformedRecord))
	assert.Equal(t, "not a journal entry", warnings[0].Text)
}

func TestParseBytes_Fields(t *testing.T) {
	line := `{"MESSAGE":"Started OpenBSD Secure Shell server.","_BOOT_ID":"b1","PRIORITY":"6",` +
		`"UNIT":"ssh.service","_SYSTEMD_UNIT":"init.scope",` +
		`"__REALTIME_TIMESTAMP":"1665143273500000","__MONOTONIC_TIMESTAMP":"12400000",` +
		`"_SOURCE_MONOTONIC_TIMESTAMP":"12300000"}`

	events, warnings := ParseBytes([]byte(line + "\n"))
	require.Empty(t, warnings)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "b1", ev.BootID)
	assert.Equal(t, 6, ev.Priority)
	assert.Equal(t, "ssh.service", ev.Unit)
	assert.True(t, ev.HasMonotonic)
	assert.Equal(t, 12300*time.Millisecond, ev.Monotonic, "source timestamp wins")
	assert.Equal(t, time.UnixMicro(1665143273500000).UTC(), ev.Realtime)
	assert.Equal(t, "init.scope", ev.Field("_SYSTEMD_UNIT"))
	assert.Equal(t, 1, ev.Line)
}

func TestParseBytes_Errors(t *testing.T) {
	tests := []struct {
		name string
		line string
		want error
	}{
		{"not json", `{"MESSAGE":`, model.ErrMalformedRecord},
		{"array", `[1,2,3]`, model.ErrMalformedRecord},
		{"no message", `{"__MONOTONIC_TIMESTAMP":"1"}`, model.ErrMissingField},
		{"no timestamps", `{"MESSAGE":"x"}`, model.ErrMissingField},
		{"bad realtime", `{"MESSAGE":"x","__REALTIME_TIMESTAMP":"soon"}`, model.ErrInvalidTimestamp},
		{"negative monotonic", `{"MESSAGE":"x","__MONOTONIC_TIMESTAMP":"-4"}`, model.ErrInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, warnings := ParseBytes([]byte(tt.line))
			assert.Empty(t, events)
			require.Len(t, warnings, 1)
			assert.ErrorIs(t, warnings[0], tt.want)
		})
	}
}

func TestParseBytes_BinaryMessage(t *testing.T) {
	line := `{"MESSAGE":[104,105],"__MONOTONIC_TIMESTAMP":"5"}`
	events, warnings := ParseBytes([]byte(line))
	require.Empty(t, warnings)
	require.Len(t, events, 1)
	assert.Equal(t, "hi", events[0].Message)
	assert.Equal(t, model.PriorityUnknown, events[0].Priority)
}

func TestParseBytes_BlankLinesAndEmptyInput(t *testing.T) {
	events, warnings := ParseBytes(nil)
	assert.Empty(t, events)
	assert.Empty(t, warnings)

	events, warnings = ParseBytes([]byte("\n\n  \n"))
	assert.Empty(t, events)
	assert.Empty(t, warnings)
}

func TestParse_Reader(t *testing.T) {
	events, warnings, err := Parse(strings.NewReader(`{"MESSAGE":"x","__MONOTONIC_TIMESTAMP":"1"}`))
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Len(t, events, 1)
}
