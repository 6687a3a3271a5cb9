package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ProcessState string

const (
	StateStarting  ProcessState = "starting"
	StateRunning   ProcessState = "running"
	StateCompleted ProcessState = "completed"
	StateFailed    ProcessState = "failed"
	StateKilled    ProcessState = "killed"
)

// Terminal reports whether no further transition can occur.
func (s ProcessState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateKilled
}

// ProcessRecord tracks one background command. Records live until explicit
// cleanup so callers can discover state long after the remote command
// finished.
type ProcessRecord struct {
	ID        string       `json:"process_id"`
	HostID    string       `json:"host_id"`
	HostName  string       `json:"host"`
	Command   string       `json:"command"`
	StartTime time.Time    `json:"start_time"`
	State     ProcessState `json:"status"`
	RemotePID int          `json:"pid,omitempty"`
	Output    []byte       `json:"-"`
	ExitCode  *int         `json:"exit_code,omitempty"`
	LastError string       `json:"error,omitempty"`

	// Remote artifacts supporting output capture.
	OutputFile string `json:"-"`
	ExitFile   string `json:"-"`

	// Monitoring gives up waiting past this point.
	Deadline time.Time `json:"-"`
}

// ProcessRegistry is the shared in-memory store of process records. All
// mutation goes through its mutex; reads return value snapshots.
type ProcessRegistry struct {
	mu        sync.Mutex
	processes map[string]*ProcessRecord
}

func NewProcessRegistry() *ProcessRegistry {
	return &ProcessRegistry{processes: make(map[string]*ProcessRecord)}
}

// Create registers a new record in the starting state and assigns it a
// short unique identifier and remote temp file paths.
func (r *ProcessRegistry) Create(hostID, hostName, command string, deadline time.Time) ProcessRecord {
	id := strings.Split(uuid.NewString(), "-")[0]
	timestamp := time.Now().Format("20060102_150405")

	rec := &ProcessRecord{
		ID:         id,
		HostID:     hostID,
		HostName:   hostName,
		Command:    command,
		StartTime:  time.Now(),
		State:      StateStarting,
		OutputFile: fmt.Sprintf("/tmp/ferryman_%s_%s.out", id, timestamp),
		ExitFile:   fmt.Sprintf("/tmp/ferryman_%s_%s.exit", id, timestamp),
		Deadline:   deadline,
	}

	r.mu.Lock()
	r.processes[id] = rec
	r.mu.Unlock()
	return snapshot(rec)
}

// Get returns a snapshot of the record, or NotFound.
func (r *ProcessRegistry) Get(id string) (ProcessRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.processes[id]
	if !ok {
		return ProcessRecord{}, newError(KindNotFound, "process %s not found", id)
	}
	return snapshot(rec), nil
}

// List returns snapshots of all records, newest first.
func (r *ProcessRegistry) List() []ProcessRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ProcessRecord, 0, len(r.processes))
	for _, rec := range r.processes {
		out = append(out, snapshot(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

// Remove drops a record. This is the only way a record is ever destroyed.
func (r *ProcessRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.processes[id]; !ok {
		return newError(KindNotFound, "process %s not found", id)
	}
	delete(r.processes, id)
	return nil
}

// SetRunning records the remote PID and moves the record to running.
func (r *ProcessRegistry) SetRunning(id string, pid int) {
	r.update(id, func(rec *ProcessRecord) {
		rec.RemotePID = pid
		rec.State = StateRunning
	})
}

// AppendOutput adds newly observed remote bytes to the append-only buffer.
func (r *ProcessRegistry) AppendOutput(id string, data []byte) {
	if len(data) == 0 {
		return
	}
	r.update(id, func(rec *ProcessRecord) {
		rec.Output = append(rec.Output, data...)
	})
}

// MergeOutputAt folds in remote bytes fetched from offset start. Concurrent
// refreshes can observe the same offset and fetch overlapping deltas; only
// the bytes beyond the current buffer length are kept, so the buffer always
// stays a prefix of the remote stream.
func (r *ProcessRegistry) MergeOutputAt(id string, start int, data []byte) {
	if len(data) == 0 {
		return
	}
	r.update(id, func(rec *ProcessRecord) {
		have := len(rec.Output)
		if start > have {
			// Gap before the fetched bytes; dropping them keeps the
			// prefix intact and the next refresh re-fetches from have.
			return
		}
		if start+len(data) <= have {
			return
		}
		rec.Output = append(rec.Output, data[have-start:]...)
	})
}

// Complete marks the record completed with the observed exit code.
func (r *ProcessRegistry) Complete(id string, exitCode int) {
	r.update(id, func(rec *ProcessRecord) {
		if rec.State.Terminal() {
			return
		}
		rec.State = StateCompleted
		rec.ExitCode = &exitCode
	})
}

// Fail marks the record failed with a reason. Terminal records are left
// untouched.
func (r *ProcessRegistry) Fail(id, reason string) {
	r.update(id, func(rec *ProcessRecord) {
		if rec.State.Terminal() {
			return
		}
		rec.State = StateFailed
		rec.LastError = reason
	})
}

// MarkKilled records a successful termination.
func (r *ProcessRegistry) MarkKilled(id string) {
	r.update(id, func(rec *ProcessRecord) {
		if rec.State.Terminal() {
			return
		}
		rec.State = StateKilled
	})
}

func (r *ProcessRegistry) update(id string, fn func(*ProcessRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.processes[id]; ok {
		fn(rec)
	}
}

// Read serves one byte-range chunk of the accumulated output. A read past
// the buffer on a running record returns an empty chunk with hasMore=true;
// the same read on a terminal record is a RangeError when startByte is
// strictly beyond the buffer length, and an empty final chunk at exactly the
// buffer length.
func (r *ProcessRegistry) Read(id string, startByte, chunkSize int) ([]byte, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.processes[id]
	if !ok {
		return nil, false, newError(KindNotFound, "process %s not found", id)
	}
	if startByte < 0 || chunkSize <= 0 {
		return nil, false, newError(KindRange, "invalid range: start_byte=%d chunk_size=%d", startByte, chunkSize)
	}

	length := len(rec.Output)
	terminal := rec.State.Terminal()

	if startByte > length {
		if terminal {
			return nil, false, newError(KindRange,
				"start_byte %d exceeds output length %d", startByte, length)
		}
		return []byte{}, true, nil
	}

	end := startByte + chunkSize
	if end > length {
		end = length
	}
	chunk := make([]byte, end-startByte)
	copy(chunk, rec.Output[startByte:end])

	hasMore := startByte+chunkSize < length || !terminal
	return chunk, hasMore, nil
}

func snapshot(rec *ProcessRecord) ProcessRecord {
	out := *rec
	out.Output = make([]byte, len(rec.Output))
	copy(out.Output, rec.Output)
	if rec.ExitCode != nil {
		code := *rec.ExitCode
		out.ExitCode = &code
	}
	return out
}
