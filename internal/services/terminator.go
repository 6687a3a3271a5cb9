package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	killGracePeriod = 5 * time.Second
	killPollEvery   = 500 * time.Millisecond
)

// Terminator stops running background processes and reconciles the registry.
type Terminator struct {
	registry    *ProcessRegistry
	runner      Runner
	sink        EventSink
	readTimeout time.Duration
}

func NewTerminator(registry *ProcessRegistry, runner Runner, sink EventSink, readTimeout time.Duration) *Terminator {
	return &Terminator{
		registry:    registry,
		runner:      runner,
		sink:        sink,
		readTimeout: readTimeout,
	}
}

// Kill signals the remote process for id, escalating from SIGTERM to SIGKILL
// if it does not exit within the grace window. Killing an already-terminal
// record fails with AlreadyTerminal so callers can tell "nothing to kill"
// apart from a successful kill.
func (t *Terminator) Kill(target Target, id string, cleanupFiles bool) error {
	rec, err := t.registry.Get(id)
	if err != nil {
		return err
	}
	if rec.State.Terminal() {
		return newError(KindAlreadyTerminal, "process %s is already %s", id, rec.State)
	}
	if rec.RemotePID <= 0 {
		return newError(KindLaunch, "process %s has no known remote PID", id)
	}

	if err := t.signal(target, rec.RemotePID, "TERM"); err != nil {
		return err
	}

	// Grace window before escalating to SIGKILL.
	deadline := time.Now().Add(killGracePeriod)
	for time.Now().Before(deadline) {
		if !t.alive(target, rec.RemotePID) {
			break
		}
		time.Sleep(killPollEvery)
	}
	if t.alive(target, rec.RemotePID) {
		slog.Warn("Process survived SIGTERM, escalating", "process_id", id, "pid", rec.RemotePID)
		if err := t.signal(target, rec.RemotePID, "KILL"); err != nil {
			return err
		}
	}

	t.registry.MarkKilled(id)

	// The command may have finished on its own between the terminal check
	// above and the signal landing; MarkKilled no-ops on terminal records.
	killed, err := t.registry.Get(id)
	if err != nil {
		return err
	}
	if killed.State != StateKilled {
		return newError(KindAlreadyTerminal,
			"process %s finished as %s before the kill landed", id, killed.State)
	}
	slog.Info("Background command killed", "process_id", id, "pid", rec.RemotePID)

	if cleanupFiles {
		t.cleanup(target, rec)
	}

	if t.sink != nil {
		t.sink.ProcessEvent("kill", killed)
	}
	return nil
}

func (t *Terminator) signal(target Target, pid int, sig string) error {
	ctx, cancel := context.WithTimeout(context.Background(), t.readTimeout)
	defer cancel()

	out, exitCode, err := t.runner.Run(ctx, target, fmt.Sprintf("kill -%s %d 2>&1", sig, pid))
	if err != nil {
		return err
	}
	if exitCode != 0 {
		// The process may have exited between the status check and the
		// signal. Treat a vanished PID as success.
		if strings.Contains(out, "No such process") {
			return nil
		}
		return newError(KindLaunch, "kill -%s %d failed: %s", sig, pid, strings.TrimSpace(out))
	}
	return nil
}

func (t *Terminator) alive(target Target, pid int) bool {
	ctx, cancel := context.WithTimeout(context.Background(), t.readTimeout)
	defer cancel()

	_, exitCode, err := t.runner.Run(ctx, target, fmt.Sprintf("kill -0 %d 2>/dev/null", pid))
	return err == nil && exitCode == 0
}

// cleanup removes the temp files that supported output capture.
func (t *Terminator) cleanup(target Target, rec ProcessRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), t.readTimeout)
	defer cancel()

	cmd := fmt.Sprintf("rm -f %s %s", rec.OutputFile, rec.ExitFile)
	if _, _, err := t.runner.Run(ctx, target, cmd); err != nil {
		slog.Warn("Failed to clean up remote temp files",
			"process_id", rec.ID, "error", err)
	}
}
