package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emirhankarahan/ferryman/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost emulates the remote side of the launch protocol: it hands out a
// PID, serves output deltas for tail reads and answers the state probe.
type fakeHost struct {
	mu sync.Mutex

	pid       int
	launchErr error
	launchOut string

	output    string
	state     string // RUNNING, GONE or EXIT:<code>
	tailDelay time.Duration
	commands  []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{pid: 4242, state: "RUNNING"}
}

func (f *fakeHost) setState(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = state
}

func (f *fakeHost) setOutput(output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.output = output
}

func (f *fakeHost) setTailDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tailDelay = d
}

func (f *fakeHost) seen(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, cmd := range f.commands {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeHost) Run(ctx context.Context, target Target, command string) (string, int, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	pid, launchErr, launchOut := f.pid, f.launchErr, f.launchOut
	output, state, tailDelay := f.output, f.state, f.tailDelay
	f.mu.Unlock()

	switch {
	case strings.HasPrefix(command, "nohup bash -c"):
		if launchErr != nil {
			return "", 0, launchErr
		}
		if launchOut != "" {
			return launchOut, 0, nil
		}
		return fmt.Sprintf("%d\n", pid), 0, nil

	case strings.HasPrefix(command, "tail -c"):
		// Simulated network latency; lets concurrent fetches overlap.
		if tailDelay > 0 {
			time.Sleep(tailDelay)
		}
		var offset int
		fmt.Sscanf(command, "tail -c +%d", &offset)
		if offset-1 >= len(output) {
			return "", 0, nil
		}
		return output[offset-1:], 0, nil

	case strings.HasPrefix(command, "if [ -f"):
		return state + "\n", 0, nil

	default:
		return "", 0, nil
	}
}

func testTarget() Target {
	return Target{ID: "host-1", Name: "web-1", Host: "srv1", Port: 22,
		Credentials: Credentials{Username: "deploy", AuthType: "password"}}
}

func permissiveValidator() *security.Validator {
	return security.NewValidator(security.NewPolicy(security.ModeDisabled, "", "", false), nil)
}

func newTestExecutor(host *fakeHost, quickWait time.Duration) *Executor {
	return NewExecutor(permissiveValidator(), NewProcessRegistry(), host, nil,
		time.Minute, time.Second, quickWait)
}

func TestStartRejectsBlockedCommands(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	validator := security.NewValidator(security.NewPolicy(security.ModeBlacklist, "", "", false), nil)
	e := NewExecutor(validator, NewProcessRegistry(), host, nil, time.Minute, time.Second, 0)

	_, err := e.Start(testTarget(), "rm -rf /")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Contains(t, err.Error(), "pattern")

	// Nothing reached the remote host and nothing was registered.
	assert.Empty(t, host.commands)
	assert.Empty(t, e.Registry().List())
}

func TestStartReturnsCompletedForFastCommands(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.setOutput("hello\n")
	host.setState("EXIT:0")
	e := newTestExecutor(host, 5*time.Second)

	rec, err := e.Start(testTarget(), "echo hello")
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, rec.State)
	assert.Equal(t, 4242, rec.RemotePID)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 0, *rec.ExitCode)
	assert.Equal(t, "hello\n", string(rec.Output))
}

func TestStartReturnsRunningForSlowCommands(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	e := newTestExecutor(host, 0)

	rec, err := e.Start(testTarget(), "sleep 600")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, rec.State)
	assert.Nil(t, rec.ExitCode)
}

func TestStatusPicksUpCompletionLazily(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	e := newTestExecutor(host, 0)

	rec, err := e.Start(testTarget(), "sleep 5")
	require.NoError(t, err)

	// Still running on the first poll.
	current, err := e.Status(testTarget(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, current.State)

	// The remote side finishes; the next poll observes it.
	host.setOutput("done\n")
	host.setState("EXIT:7")

	current, err = e.Status(testTarget(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, current.State)
	require.NotNil(t, current.ExitCode)
	assert.Equal(t, 7, *current.ExitCode)
	assert.Equal(t, "done\n", string(current.Output))
}

func TestRefreshIncrementsOutputBuffer(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	e := newTestExecutor(host, 0)

	rec, err := e.Start(testTarget(), "journalctl -f")
	require.NoError(t, err)

	host.setOutput("line1\n")
	e.Refresh(testTarget(), rec.ID)
	current, _ := e.Registry().Get(rec.ID)
	assert.Equal(t, "line1\n", string(current.Output))

	host.setOutput("line1\nline2\n")
	e.Refresh(testTarget(), rec.ID)
	current, _ = e.Registry().Get(rec.ID)
	assert.Equal(t, "line1\nline2\n", string(current.Output))
}

func TestConcurrentRefreshKeepsBufferPrefixConsistent(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	e := newTestExecutor(host, 0)

	rec, err := e.Start(testTarget(), "journalctl -f")
	require.NoError(t, err)

	host.setOutput("0123456789")
	host.setTailDelay(50 * time.Millisecond)

	// A websocket stream poll and an HTTP output read can refresh the same
	// record at the same time; both observe offset 0 and fetch the full
	// remote delta. The buffer must still match the remote stream.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Refresh(testTarget(), rec.ID)
		}()
	}
	wg.Wait()

	current, err := e.Registry().Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(current.Output))
}

func TestRefreshFailsRecordWhenRemoteProcessVanished(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	e := newTestExecutor(host, 0)

	rec, err := e.Start(testTarget(), "flaky-daemon")
	require.NoError(t, err)

	host.setState("GONE")
	current, err := e.Status(testTarget(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, current.State)
	assert.Contains(t, current.LastError, "without reporting an exit code")
}

func TestRefreshTimesOutPastTheCommandDeadline(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	e := NewExecutor(permissiveValidator(), NewProcessRegistry(), host, nil,
		-time.Second, time.Second, 0) // deadline already in the past

	rec, err := e.Start(testTarget(), "sleep 600")
	require.NoError(t, err)

	current, err := e.Status(testTarget(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, current.State)
	assert.Contains(t, current.LastError, "did not finish")
	// The remote process is left alone; no kill was issued.
	assert.Zero(t, host.seen("kill"))
}

func TestRefreshLeavesTerminalRecordsAlone(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.setState("EXIT:0")
	e := newTestExecutor(host, 5*time.Second)

	rec, err := e.Start(testTarget(), "true")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, rec.State)

	probes := host.seen("if [ -f")
	e.Refresh(testTarget(), rec.ID)
	assert.Equal(t, probes, host.seen("if [ -f"))
}

func TestStartSurfacesLaunchFailures(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.launchErr = newError(KindConnection, "dial tcp: connection refused")
	e := newTestExecutor(host, 0)

	_, err := e.Start(testTarget(), "echo hi")
	require.Error(t, err)
	assert.Equal(t, KindConnection, KindOf(err))

	// The record remains, marked failed, for later inspection.
	list := e.Registry().List()
	require.Len(t, list, 1)
	assert.Equal(t, StateFailed, list[0].State)
}

func TestStartRejectsUnparsablePID(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	host.launchOut = "bash: nohup: command not found\n"
	e := newTestExecutor(host, 0)

	_, err := e.Start(testTarget(), "echo hi")
	require.Error(t, err)
	assert.Equal(t, KindLaunch, KindOf(err))
}

func TestExecRunsSynchronouslyThroughValidation(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	validator := security.NewValidator(security.NewPolicy(security.ModeBlacklist, "", "", false), nil)
	e := NewExecutor(validator, NewProcessRegistry(), host, nil, time.Minute, time.Second, 0)

	_, _, err := e.Exec(testTarget(), "shutdown -h now")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))

	out, exitCode, err := e.Exec(testTarget(), "uptime")
	require.NoError(t, err)
	assert.Equal(t, 0, exitCode)
	assert.Empty(t, out)
	assert.Equal(t, 1, host.seen("uptime"))
}

func TestLaunchCommandShape(t *testing.T) {
	t.Parallel()

	host := newFakeHost()
	e := newTestExecutor(host, 0)

	rec, err := e.Start(testTarget(), "echo 'quoted'")
	require.NoError(t, err)

	require.NotEmpty(t, host.commands)
	launch := host.commands[0]
	assert.True(t, strings.HasPrefix(launch, "nohup bash -c"))
	assert.Contains(t, launch, "echo $!")
	assert.Contains(t, launch, rec.OutputFile)
	assert.Contains(t, launch, `'\''quoted'\''`)
}

func TestShellQuote(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `'plain'`, shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}
