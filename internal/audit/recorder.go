package audit

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/emirhankarahan/ferryman/internal/models"
	"github.com/emirhankarahan/ferryman/internal/security"
	"github.com/emirhankarahan/ferryman/internal/services"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Recorder persists security decisions and process lifecycle events. It is
// the observability collaborator the validator and executor report to.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// SecurityDecision implements security.Observer.
func (r *Recorder) SecurityDecision(command, host string, d security.Decision) {
	details, _ := json.Marshal(map[string]interface{}{
		"command": command,
		"allowed": d.Allowed,
		"reason":  d.Reason,
		"pattern": d.MatchedPattern,
	})

	entry := models.AuditLog{
		Actor:   "engine",
		Action:  "validate",
		Target:  host,
		Details: details,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		slog.Error("Failed to write audit entry", "action", "validate", "error", err)
	}
}

// ProcessEvent implements services.EventSink. Terminal events additionally
// land in the command history.
func (r *Recorder) ProcessEvent(action string, rec services.ProcessRecord) {
	details, _ := json.Marshal(map[string]interface{}{
		"process_id": rec.ID,
		"command":    rec.Command,
		"status":     rec.State,
		"pid":        rec.RemotePID,
	})

	entry := models.AuditLog{
		Actor:   "engine",
		Action:  action,
		Target:  rec.HostName,
		Details: details,
	}
	if err := r.db.Create(&entry).Error; err != nil {
		slog.Error("Failed to write audit entry", "action", action, "error", err)
	}

	if rec.State.Terminal() {
		r.recordHistory(rec)
	}
}

func (r *Recorder) recordHistory(rec services.ProcessRecord) {
	hostID, err := uuid.Parse(rec.HostID)
	if err != nil {
		return
	}

	exitCode := -1
	if rec.ExitCode != nil {
		exitCode = *rec.ExitCode
	}

	history := models.CommandHistory{
		HostID:     hostID,
		ProcessID:  rec.ID,
		Command:    rec.Command,
		Output:     string(rec.Output),
		Status:     string(rec.State),
		ExitCode:   exitCode,
		ExecutedAt: rec.StartTime,
		DurationMs: int(time.Since(rec.StartTime).Milliseconds()),
	}
	if err := r.db.Create(&history).Error; err != nil {
		slog.Error("Failed to write command history", "process_id", rec.ID, "error", err)
	}
}
