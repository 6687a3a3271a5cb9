package services

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/emirhankarahan/ferryman/internal/security"
)

const quickWaitInterval = 500 * time.Millisecond

// EventSink receives lifecycle events of background processes, e.g. for the
// audit trail and command history.
type EventSink interface {
	ProcessEvent(action string, rec ProcessRecord)
}

// Executor launches validated commands detached on remote hosts and keeps
// their registry records current. Monitoring is lazy: records are refreshed
// on every status and output call rather than by a background poller, so a
// caller that never polls learns of completion only on its next call.
type Executor struct {
	validator *security.Validator
	registry  *ProcessRegistry
	runner    Runner
	sink      EventSink

	commandTimeout time.Duration
	readTimeout    time.Duration
	quickWait      time.Duration
}

func NewExecutor(validator *security.Validator, registry *ProcessRegistry, runner Runner,
	sink EventSink, commandTimeout, readTimeout, quickWait time.Duration) *Executor {
	return &Executor{
		validator:      validator,
		registry:       registry,
		runner:         runner,
		sink:           sink,
		commandTimeout: commandTimeout,
		readTimeout:    readTimeout,
		quickWait:      quickWait,
	}
}

// Start validates the command, launches it detached on the remote host and
// returns the process record without waiting for completion. A short quick
// wait is granted first so trivially fast commands come back already
// completed.
func (e *Executor) Start(target Target, command string) (ProcessRecord, error) {
	decision := e.validator.Validate(command, target.Name)
	if !decision.Allowed {
		reason := decision.Reason
		if decision.MatchedPattern != "" {
			reason = fmt.Sprintf("%s (pattern: %s)", reason, decision.MatchedPattern)
		}
		return ProcessRecord{}, newError(KindValidation, "%s", reason)
	}

	rec := e.registry.Create(target.ID, target.Name, command, time.Now().Add(e.commandTimeout))

	pid, err := e.launch(target, rec, command)
	if err != nil {
		e.registry.Fail(rec.ID, err.Error())
		e.emit("launch_failed", rec.ID)
		return ProcessRecord{}, err
	}

	e.registry.SetRunning(rec.ID, pid)
	slog.Info("Background command started",
		"process_id", rec.ID, "host", target.Name, "pid", pid)
	e.emit("start", rec.ID)

	// Quick-wait grace period: fast commands get reported completed on the
	// very first response instead of forcing a needless round trip.
	waitDeadline := time.Now().Add(e.quickWait)
	for time.Now().Before(waitDeadline) {
		e.Refresh(target, rec.ID)
		if current, err := e.registry.Get(rec.ID); err == nil && current.State.Terminal() {
			break
		}
		time.Sleep(quickWaitInterval)
	}

	return e.registry.Get(rec.ID)
}

// launch detaches the command on the remote host: output is redirected to a
// temp file, the exit code is written to a second file on completion, and
// nohup keeps the process alive after the session that spawned it is gone.
func (e *Executor) launch(target Target, rec ProcessRecord, command string) (int, error) {
	script := fmt.Sprintf("( %s ); echo $? > %s", command, rec.ExitFile)
	launch := fmt.Sprintf("nohup bash -c %s > %s 2>&1 & echo $!",
		shellQuote(script), rec.OutputFile)

	ctx, cancel := context.WithTimeout(context.Background(), e.readTimeout)
	defer cancel()

	out, exitCode, err := e.runner.Run(ctx, target, launch)
	if err != nil {
		return 0, err
	}
	if exitCode != 0 {
		return 0, newError(KindLaunch, "remote launch exited with %d: %s", exitCode, strings.TrimSpace(out))
	}

	pid, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil || pid <= 0 {
		return 0, newError(KindLaunch, "could not determine remote PID from %q", strings.TrimSpace(out))
	}
	return pid, nil
}

// Refresh pulls newly observed output into the record's buffer and detects
// completion. Past the command timeout the record is failed without killing
// the remote process; the terminator can still be used to stop it.
func (e *Executor) Refresh(target Target, id string) {
	rec, err := e.registry.Get(id)
	if err != nil || rec.State.Terminal() || rec.State == StateStarting {
		return
	}

	e.fetchOutput(target, rec)

	ctx, cancel := context.WithTimeout(context.Background(), e.readTimeout)
	defer cancel()

	check := fmt.Sprintf(
		"if [ -f %s ]; then echo \"EXIT:$(cat %s)\"; elif kill -0 %d 2>/dev/null; then echo RUNNING; else echo GONE; fi",
		rec.ExitFile, rec.ExitFile, rec.RemotePID)
	out, _, err := e.runner.Run(ctx, target, check)
	if err != nil {
		slog.Warn("Process state check failed", "process_id", id, "error", err)
		return
	}

	switch state := strings.TrimSpace(out); {
	case strings.HasPrefix(state, "EXIT:"):
		code, convErr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(state, "EXIT:")))
		if convErr != nil {
			code = -1
		}
		// Drain whatever arrived between the fetch and the exit.
		e.fetchOutput(target, rec)
		e.registry.Complete(id, code)
		slog.Info("Background command completed", "process_id", id, "exit_code", code)
		e.emit("complete", id)

	case state == "GONE":
		e.fetchOutput(target, rec)
		e.registry.Fail(id, "remote process exited without reporting an exit code")
		e.emit("failed", id)

	default: // RUNNING
		if time.Now().After(rec.Deadline) {
			e.registry.Fail(id, fmt.Sprintf(
				"command did not finish within %s; the remote process may still be running", e.commandTimeout))
			slog.Warn("Background command timed out", "process_id", id, "pid", rec.RemotePID)
			e.emit("timeout", id)
		}
	}
}

// fetchOutput appends only the bytes not yet observed.
func (e *Executor) fetchOutput(target Target, rec ProcessRecord) {
	current, err := e.registry.Get(rec.ID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.readTimeout)
	defer cancel()

	offset := len(current.Output)
	cmd := fmt.Sprintf("tail -c +%d %s 2>/dev/null", offset+1, rec.OutputFile)
	out, _, runErr := e.runner.Run(ctx, target, cmd)
	if runErr != nil {
		slog.Warn("Output fetch failed", "process_id", rec.ID, "error", runErr)
		return
	}
	e.registry.MergeOutputAt(rec.ID, offset, []byte(out))
}

// Status refreshes terminal detection and returns a snapshot.
func (e *Executor) Status(target Target, id string) (ProcessRecord, error) {
	e.Refresh(target, id)
	return e.registry.Get(id)
}

// Read refreshes the buffer and serves one chunk.
func (e *Executor) Read(target Target, id string, startByte, chunkSize int) ([]byte, bool, error) {
	e.Refresh(target, id)
	return e.registry.Read(id, startByte, chunkSize)
}

// Exec runs a command synchronously through the same validation and pooling
// path, bounded by the command timeout.
func (e *Executor) Exec(target Target, command string) (string, int, error) {
	decision := e.validator.Validate(command, target.Name)
	if !decision.Allowed {
		reason := decision.Reason
		if decision.MatchedPattern != "" {
			reason = fmt.Sprintf("%s (pattern: %s)", reason, decision.MatchedPattern)
		}
		return "", 0, newError(KindValidation, "%s", reason)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.commandTimeout)
	defer cancel()
	return e.runner.Run(ctx, target, command)
}

func (e *Executor) Registry() *ProcessRegistry { return e.registry }

func (e *Executor) emit(action, id string) {
	if e.sink == nil {
		return
	}
	if rec, err := e.registry.Get(id); err == nil {
		e.sink.ProcessEvent(action, rec)
	}
}

// shellQuote single-quotes a string for safe embedding in a shell command.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
