// Package supervisor detects which external process manager, if any, owns a
// candidate process, and issues that manager's own stop/restart command
// instead of a raw signal when the Decision Engine routes to it
// (spec.md §4.F rule 5, §4.I). Detection is heuristic and layered: cgroup
// unit name first (systemd, docker, containerd), then ancestor-command-line
// matching for manager processes with no cgroup signature of their own
// (pm2, tmux, screen, nodemon, supervisord).
package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/proctriage/triage/internal/model"
)

var (
	systemdUnitRe  = regexp.MustCompile(`/system\.slice/([^/]+\.service)$`)
	dockerUnitRe   = regexp.MustCompile(`/docker[-/]([0-9a-f]{12,64})`)
	containerdUnitRe = regexp.MustCompile(`/containerd[-/]([0-9a-f]{12,64})`)
)

// DetectFromCgroup parses a process's /proc/<pid>/cgroup content (v1 or v2
// layout) for a systemd unit, docker, or containerd container ID.
func DetectFromCgroup(cgroupContent string) model.SupervisorHint {
	for _, line := range strings.Split(cgroupContent, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// v1 lines are "hierarchy-id:controller-list:path"; v2 is "0::path".
		parts := strings.SplitN(line, ":", 3)
		path := line
		if len(parts) == 3 {
			path = parts[2]
		}

		if m := systemdUnitRe.FindStringSubmatch(path); m != nil {
			return model.SupervisorHint{Type: model.SupervisorSystemd, Unit: m[1]}
		}
		if m := dockerUnitRe.FindStringSubmatch(path); m != nil {
			return model.SupervisorHint{Type: model.SupervisorDocker, Unit: m[1]}
		}
		if m := containerdUnitRe.FindStringSubmatch(path); m != nil {
			return model.SupervisorHint{Type: model.SupervisorContainerd, Unit: m[1]}
		}
	}
	return model.SupervisorHint{}
}

// ReadCgroup reads /proc/<pid>/cgroup for the given PID. Returns "" if the
// process has exited or the platform carries no /proc.
func ReadCgroup(pid int) string {
	f, err := os.Open(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return ""
	}
	defer f.Close()

	var sb strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		sb.WriteString(scanner.Text())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// managerPatterns matches an ancestor's cmdline to the process manager that
// owns it, for managers with no cgroup signature of their own.
var managerPatterns = []struct {
	supervisor model.SupervisorType
	pattern    *regexp.Regexp
}{
	{model.SupervisorPM2, regexp.MustCompile(`(^|/)PM2\b|(^|/)pm2(\s|$)`)},
	{model.SupervisorSupervisord, regexp.MustCompile(`(^|/)supervisord(\s|$)`)},
	{model.SupervisorTmux, regexp.MustCompile(`(^|/)tmux(:|\s|$)`)},
	{model.SupervisorScreen, regexp.MustCompile(`(^|/)SCREEN(\s|$)`)},
	{model.SupervisorNodemon, regexp.MustCompile(`(^|/)nodemon(\s|$)`)},
	{model.SupervisorLaunchd, regexp.MustCompile(`(^|/)launchd(\s|$)`)},
}

// DetectFromAncestors walks ancestorCmdlines (nearest parent first) looking
// for a known process-manager signature. Returns the zero SupervisorHint if
// none match.
func DetectFromAncestors(ancestorCmdlines []string) model.SupervisorHint {
	for _, cmd := range ancestorCmdlines {
		for _, mp := range managerPatterns {
			if mp.pattern.MatchString(cmd) {
				return model.SupervisorHint{Type: mp.supervisor}
			}
		}
	}
	return model.SupervisorHint{}
}

// Detect runs the full layered detection: cgroup first, ancestor chain
// second, first match wins.
func Detect(cgroupContent string, ancestorCmdlines []string) model.SupervisorHint {
	if hint := DetectFromCgroup(cgroupContent); hint.Type != "" {
		return hint
	}
	return DetectFromAncestors(ancestorCmdlines)
}

// StopCommand returns the supervisor's own argv for stopping unit, and
// whether this supervisor type has one. launchd/tmux/screen/nodemon have no
// single canonical stop argv here and return ok=false: Detected stays true,
// the Decision Engine still turns a kill or restart into supervisor_stop, and the
// executor falls back to a direct staged kill.
func StopCommand(supervisorType model.SupervisorType, unit string) (argv []string, ok bool) {
	switch supervisorType {
	case model.SupervisorSystemd:
		return []string{"systemctl", "stop", unit}, true
	case model.SupervisorDocker:
		return []string{"docker", "stop", unit}, true
	case model.SupervisorContainerd:
		return []string{"ctr", "task", "kill", unit}, true
	case model.SupervisorPM2:
		return []string{"pm2", "stop", unit}, true
	case model.SupervisorSupervisord:
		return []string{"supervisorctl", "stop", unit}, true
	default:
		return nil, false
	}
}
