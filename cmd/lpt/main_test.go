package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJournal = `{"MESSAGE":"Linux version 5.15.0-1019-azure","_BOOT_ID":"b1","PRIORITY":"5","__MONOTONIC_TIMESTAMP":"0","__REALTIME_TIMESTAMP":"1665143220000000"}
{"MESSAGE":"Cloud-init v. 22.3 running 'init-local' at Fri, 07 Oct 2022 11:47:03 +0000. Up 3.00 seconds.","_BOOT_ID":"b1","PRIORITY":"6","__MONOTONIC_TIMESTAMP":"3000000","__REALTIME_TIMESTAMP":"1665143223000000"}
{"MESSAGE":"Startup finished in 1s (firmware) + 2s (kernel) + 4s (userspace) = 7s.","_BOOT_ID":"b1","PRIORITY":"6","__MONOTONIC_TIMESTAMP":"7000000","__REALTIME_TIMESTAMP":"1665143227000000"}
`

const testCloudInit = `2022-10-07 11:47:03,000 - util.py[DEBUG]: Cloud-init v. 22.3 running 'init-local' at Fri, 07 Oct 2022 11:47:03 +0000. Up 3.00 seconds.
2022-10-07 11:47:03,100 - handlers.py[DEBUG]: start: init-local/search-Azure: searching for local data from DataSourceAzure
2022-10-07 11:47:04,100 - handlers.py[DEBUG]: finish: init-local/search-Azure: SUCCESS: found local data from DataSourceAzure
`

const testUnits = `UserspaceTimestampMonotonic=1500000
FinishTimestampMonotonic=7000000

Id=ssh.service
ActiveState=active
After=network.target sysinit.target
Wants=network.target
InactiveExitTimestampMonotonic=5000000
ActiveEnterTimestampMonotonic=5200000

Id=network.target
ActiveState=active
After=systemd-networkd.service
ActiveEnterTimestampMonotonic=4000000

Id=systemd-networkd.service
ActiveState=active
InactiveExitTimestampMonotonic=2000000
ActiveEnterTimestampMonotonic=3500000

Id=sysinit.target
ActiveState=inactive
`

func writeFixture(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), err
}

func TestAnalyzeCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	journal := writeFixture(t, dir, "journal.json", testJournal)
	cloudInit := writeFixture(t, dir, "cloud-init.log", testCloudInit)
	units := writeFixture(t, dir, "show.txt", testUnits)

	stdout, err := execute(t, "analyze",
		"--output", out,
		"--journal-path", journal,
		"--cloudinit-log-path", cloudInit,
		"--systemd-path", units,
		"--event-type", "KERNEL_BOOT,CLOUDINIT_FRAME_START")
	require.NoError(t, err)

	var rep struct {
		BootID string `json:"boot_id"`
		Events []struct {
			Label string `json:"label"`
		} `json:"events"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &rep))
	assert.Equal(t, "b1", rep.BootID)
	var got []string
	for _, e := range rep.Events {
		got = append(got, e.Label)
	}
	assert.Equal(t, []string{"KERNEL_BOOT", "CLOUDINIT_FRAME_START"}, got)

	for _, name := range []string{"journal.json.zst", "cloud-init.log.zst", "manifest.json", "lpt.log"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
}

func TestAnalyzeJournalCommand_Query(t *testing.T) {
	dir := t.TempDir()
	journal := writeFixture(t, dir, "journal.json", testJournal)

	stdout, err := execute(t, "analyze-journal",
		"--output", filepath.Join(dir, "out"),
		"--journal-path", journal,
		"--query", "priority<=5")
	require.NoError(t, err)
	assert.Contains(t, stdout, "KERNEL_BOOT")
	assert.NotContains(t, stdout, "STARTUP_FINISHED")
	assert.NotContains(t, stdout, "CLOUDINIT_LOGS_MISSING")
}

func TestAnalyzeCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	journal := writeFixture(t, dir, "journal.json", testJournal)
	out := filepath.Join(dir, "out")

	tests := []struct {
		name string
		args []string
	}{
		{"bad boot", []string{"analyze-journal", "--output", out, "--journal-path", journal, "--boot", "not-a-boot"}},
		{"unknown boot", []string{"analyze-journal", "--output", out, "--journal-path", journal, "--boot", "5"}},
		{"bad query", []string{"analyze-journal", "--output", out, "--journal-path", journal, "--query", "priority<"}},
		{"missing journal", []string{"analyze-journal", "--output", out, "--journal-path", filepath.Join(dir, "nope.json")}},
		{"stray argument", []string{"analyze", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestGraphCommand(t *testing.T) {
	dir := t.TempDir()
	units := writeFixture(t, dir, "show.txt", testUnits)
	out := filepath.Join(dir, "out")

	stdout, err := execute(t, "graph", "ssh.service", "--output", out, "--systemd-path", units)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "digraph"), stdout)
	assert.Contains(t, stdout, "systemd-networkd.service")
	assert.NotContains(t, stdout, "sysinit.target", "inactive units are filtered by default")

	stdout, err = execute(t, "graph", "ssh.service",
		"--output", out,
		"--systemd-path", units,
		"--no-filter-inactive",
		"--filter-service", "systemd-*",
		"--format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "sysinit.target")
	assert.NotContains(t, stdout, `"systemd-networkd.service"`)
}

func TestGraphCommand_BadFlags(t *testing.T) {
	dir := t.TempDir()
	units := writeFixture(t, dir, "show.txt", testUnits)
	out := filepath.Join(dir, "out")

	for _, args := range [][]string{
		{"graph", "ssh.service", "--output", out, "--systemd-path", units, "--format", "svg"},
		{"graph", "ssh.service", "--output", out, "--systemd-path", units, "--direction", "sideways"},
		{"graph", "ssh.service", "--output", out, "--systemd-path", units, "--filter", "colour:red"},
		{"graph", "missing.service", "--output", out, "--systemd-path", units},
		{"graph", "--output", out},
	} {
		_, err := execute(t, args...)
		assert.Error(t, err, strings.Join(args, " "))
	}
}

func TestFlagUsage(t *testing.T) {
	root := newRootCmd(&bytes.Buffer{})

	tests := []struct {
		cmd, flag, want string
	}{
		{"analyze", "boot", "0 latest, -1 the one before, 1 the oldest"},
		{"graph", "filter-conditional-result-no", "Drop ordering edges"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+" "+tt.flag, func(t *testing.T) {
			cmd, _, err := root.Find([]string{tt.cmd})
			require.NoError(t, err)
			f := cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Contains(t, f.Usage, tt.want)
		})
	}
}

func TestAnalyzeJournalCommand_BootByID(t *testing.T) {
	dir := t.TempDir()
	journal := writeFixture(t, dir, "journal.json", testJournal)

	stdout, err := execute(t, "analyze-journal",
		"--output", filepath.Join(dir, "out"),
		"--journal-path", journal,
		"--boot", "b1")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"boot_id": "b1"`)
}
