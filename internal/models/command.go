package models

import (
	"time"

	"github.com/google/uuid"
)

// CommandHistory persists finished commands, synchronous and background
// alike. Live background state stays in the in-memory registry; only
// outcomes land here.
type CommandHistory struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	HostID     uuid.UUID `gorm:"type:uuid;not null;index" json:"host_id"`
	Host       Host      `gorm:"foreignKey:HostID" json:"-"`
	ProcessID  string    `gorm:"index" json:"process_id,omitempty"` // empty for synchronous runs
	Command    string    `gorm:"not null" json:"command"`
	Output     string    `gorm:"type:text" json:"output"`
	Status     string    `gorm:"not null" json:"status"` // completed, failed, killed
	ExitCode   int       `json:"exit_code"`
	ExecutedAt time.Time `gorm:"not null" json:"executed_at"`
	DurationMs int       `json:"duration_ms"`
}
