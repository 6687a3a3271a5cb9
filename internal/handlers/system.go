package handlers

import (
	"time"

	"github.com/emirhankarahan/ferryman/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var startTime = time.Now()
var Version = "1.0.0"

type SystemHandler struct {
	db       *gorm.DB
	pool     *services.SSHPool
	registry *services.ProcessRegistry
}

func NewSystemHandler(db *gorm.DB, pool *services.SSHPool, registry *services.ProcessRegistry) *SystemHandler {
	return &SystemHandler{db: db, pool: pool, registry: registry}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	statusCode := fiber.StatusOK

	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "unreachable: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":  overall,
		"service": "ferryman",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(startTime).String(),
		"db":      dbStatus,
	})
}

func (h *SystemHandler) Info(c *fiber.Ctx) error {
	var hostCount, cmdCount, auditCount int64
	h.db.Model(&struct{}{}).Table("hosts").Count(&hostCount)
	h.db.Model(&struct{}{}).Table("command_histories").Count(&cmdCount)
	h.db.Model(&struct{}{}).Table("audit_logs").Count(&auditCount)

	running := 0
	for _, rec := range h.registry.List() {
		if !rec.State.Terminal() {
			running++
		}
	}

	return c.JSON(fiber.Map{
		"version":            Version,
		"uptime":             time.Since(startTime).String(),
		"hosts":              hostCount,
		"commands_executed":  cmdCount,
		"audit_entries":      auditCount,
		"tracked_processes":  len(h.registry.List()),
		"running_processes":  running,
		"pooled_connections": h.pool.Size(),
	})
}
