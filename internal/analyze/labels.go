package analyze

import (
	"regexp"
	"strings"

	"github.com/cjp256/lpt/internal/model"
)

// Severity of a labelled event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// SeverityOf derives the severity from the label prefix.
func SeverityOf(label string) Severity {
	if strings.HasPrefix(label, "WARNING_") || strings.HasPrefix(label, "ERROR_") {
		return SeverityWarning
	}
	return SeverityInfo
}

// Labels produced outside the rule tables.
const (
	LabelCloudInitFrame       = "CLOUDINIT_FRAME"
	LabelCloudInitLogsMissing = "CLOUDINIT_LOGS_MISSING"
	LabelSystemdUnit          = "SYSTEMD_UNIT"
	LabelUnitFailed           = "WARNING_SYSTEMD_UNIT_FAILED"
	LabelMalformedRecord      = "WARNING_MALFORMED_RECORD"
	LabelUnexpectedFailure    = "WARNING_UNEXPECTED_FAILURE"
)

type rule struct {
	label string
	re    *regexp.Regexp
	// once keeps only the first match.
	once bool
}

func r(label, pattern string) rule {
	return rule{label: label, re: regexp.MustCompile(pattern)}
}

func first(label, pattern string) rule {
	return rule{label: label, re: regexp.MustCompile(pattern), once: true}
}

// Shared by both logs: cloud-init prints its banners to the console too.
var cloudInitBannerRules = []rule{
	r("CLOUDINIT_RUNNING_INIT_LOCAL", `running 'init-local'`),
	r("CLOUDINIT_RUNNING_INIT", `running 'init'`),
	r("CLOUDINIT_RUNNING_MODULES_CONFIG", `running 'modules:config'`),
	r("CLOUDINIT_RUNNING_MODULES_FINAL", `running 'modules:final'`),
	r("CLOUDINIT_FINISHED", `finished at`),
}

var journalRules = concat(
	[]rule{
		first("KERNEL_BOOT", `Linux version`),
		r("LINK_READY", `link becomes ready`),
		r("EPHEMERAL_DHCP_DISCOVER", `DHCPDISCOVER`),
		r("EPHEMERAL_DHCP_OFFER", `DHCPOFFER`),
		r("EPHEMERAL_DHCP_REQUEST", `DHCPREQUEST`),
		r("EPHEMERAL_DHCP_ACK", `DHCPACK`),
		r("SYSTEMD_STARTED", `systemd .* running in system mode`),
		r("SSH_LISTENING", `Server listening on 0\.0\.0\.0 port 22`),
		first("SSH_ACCEPTED_CONNECTION", `Accepted publickey`),
		first("STARTUP_FINISHED", `Startup finished in.*\(firmware\)`),
	},
	cloudInitBannerRules,
	[]rule{
		r("SSH_HOST_KEYS_GENERATED", `Your identification has been saved in /etc/ssh/ssh_host_ecdsa_key`),
		r("CREATED_GROUP", `^new group:`),
		r("CREATED_USER", `^new user:`),
		r("SERVICE_STARTING", `^Starting`),
		r("SERVICE_STARTED", `^Started`),
		r("TARGET_REACHED", `^Reached target`),
		r("WARNING_CHRONY_SYSTEM_CLOCK_WRONG", `System clock wrong`),
		r("WARNING_CHRONY_SYSTEM_CLOCK_STEPPED", `System clock was stepped`),
		r("ERROR_SEGFAULT", `segfault`),
	},
)

var cloudInitRules = concat(
	cloudInitBannerRules,
	[]rule{
		r("CLOUDINIT_PPS_TYPE", `PPS type:|PreprovisionedVMType:`),
	},
)

// Level keywords cloud-init uses; matched against the level and the message.
var cloudInitLevelLabels = []struct{ keyword, label string }{
	{"ERROR", "WARNING_CLOUDINIT_ERROR"},
	{"WARNING", "WARNING_CLOUDINIT_WARNING"},
	{"CRITICAL", "WARNING_CLOUDINIT_CRITICAL"},
}

// Failures of this probe are expected on most platforms.
const ignoredFailure = "load_azure_ds_dir"

func concat(sets ...[]rule) []rule {
	var out []rule
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

// labeller assigns event-of-interest labels. It keeps state for rules that
// fire once per boot, so use a fresh labeller per report.
type labeller struct {
	seen    map[string]bool
	getData int
}

func newLabeller() *labeller {
	return &labeller{seen: make(map[string]bool)}
}

func (l *labeller) apply(rules []rule, msg string) []string {
	var labels []string
	for _, ru := range rules {
		if ru.once && l.seen[ru.label] {
			continue
		}
		if ru.re.MatchString(msg) {
			labels = append(labels, ru.label)
			l.seen[ru.label] = true
		}
	}
	return labels
}

func (l *labeller) journal(e model.JournalEvent) []string {
	return l.apply(journalRules, e.Message)
}

func (l *labeller) cloudInit(e model.CloudInitEvent) []string {
	labels := l.apply(cloudInitRules, e.Message)

	switch e.Type {
	case model.CloudInitStart:
		labels = append(labels, "CLOUDINIT_FRAME_START")
		if strings.Contains(e.Message, "_get_data") {
			l.getData++
			if l.getData > 1 {
				labels = append(labels, "WARNING_CLOUDINIT_UNEXPECTED_GET_DATA")
			}
		}
	case model.CloudInitFinish:
		labels = append(labels, "CLOUDINIT_FRAME_FINISH")
	}

	for _, lv := range cloudInitLevelLabels {
		if e.Level == lv.keyword || strings.Contains(e.Message, lv.keyword) {
			labels = append(labels, lv.label)
		}
	}
	if strings.Contains(e.Message, "Traceback") {
		labels = append(labels, "WARNING_CLOUDINIT_TRACEBACK")
	}

	ignored := strings.Contains(e.Message, ignoredFailure) || strings.Contains(e.Module, ignoredFailure)
	if e.Type == model.CloudInitFinish && e.Result != "" && e.Result != "SUCCESS" && !ignored {
		labels = append(labels, LabelUnexpectedFailure+" "+e.Result)
	}
	if strings.Contains(e.Message, "FAIL") && !ignored {
		labels = append(labels, "WARNING_CLOUDINIT_FAIL")
	}
	return labels
}
