package supervisor

import (
	"testing"

	"github.com/proctriage/triage/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestDetectFromCgroupSystemdV2(t *testing.T) {
	content := "0::/system.slice/myapp.service\n"
	hint := DetectFromCgroup(content)
	assert.Equal(t, model.SupervisorSystemd, hint.Type)
	assert.Equal(t, "myapp.service", hint.Unit)
}

func TestDetectFromCgroupDockerV1(t *testing.T) {
	content := "12:pids:/docker/abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789\n"
	hint := DetectFromCgroup(content)
	assert.Equal(t, model.SupervisorDocker, hint.Type)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789", hint.Unit)
}

func TestDetectFromCgroupNoMatch(t *testing.T) {
	hint := DetectFromCgroup("0::/user.slice/user-1000.slice\n")
	assert.Equal(t, model.SupervisorHint{}, hint)
}

func TestDetectFromAncestorsPM2(t *testing.T) {
	hint := DetectFromAncestors([]string{"node /usr/lib/node_modules/pm2/bin/pm2 resurrect"})
	assert.Equal(t, model.SupervisorPM2, hint.Type)
}

func TestDetectFromAncestorsTmux(t *testing.T) {
	hint := DetectFromAncestors([]string{"tmux: server"})
	assert.Equal(t, model.SupervisorTmux, hint.Type)
}

func TestDetectFromAncestorsNoMatch(t *testing.T) {
	hint := DetectFromAncestors([]string{"bash", "sshd: user@pts/0"})
	assert.Equal(t, model.SupervisorHint{}, hint)
}

func TestDetectPrefersCgroupOverAncestors(t *testing.T) {
	hint := Detect("0::/system.slice/myapp.service\n", []string{"node pm2"})
	assert.Equal(t, model.SupervisorSystemd, hint.Type)
}

func TestStopCommandKnownSupervisors(t *testing.T) {
	argv, ok := StopCommand(model.SupervisorSystemd, "myapp.service")
	assert.True(t, ok)
	assert.Equal(t, []string{"systemctl", "stop", "myapp.service"}, argv)

	argv, ok = StopCommand(model.SupervisorDocker, "mycontainer")
	assert.True(t, ok)
	assert.Equal(t, []string{"docker", "stop", "mycontainer"}, argv)
}

func TestStopCommandUnknownSupervisorFallsBack(t *testing.T) {
	_, ok := StopCommand(model.SupervisorTmux, "session")
	assert.False(t, ok)
}

func TestReadCgroupMissingPIDReturnsEmpty(t *testing.T) {
	content := ReadCgroup(1 << 22)
	assert.Empty(t, content)
}
