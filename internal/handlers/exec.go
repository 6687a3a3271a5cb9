package handlers

import (
	"strconv"
	"time"

	"github.com/emirhankarahan/ferryman/internal/config"
	"github.com/emirhankarahan/ferryman/internal/models"
	"github.com/emirhankarahan/ferryman/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ExecHandler struct {
	hosts      *HostHandler
	executor   *services.Executor
	terminator *services.Terminator
	cfg        *config.Config
}

func NewExecHandler(hosts *HostHandler, executor *services.Executor, terminator *services.Terminator, cfg *config.Config) *ExecHandler {
	return &ExecHandler{hosts: hosts, executor: executor, terminator: terminator, cfg: cfg}
}

// Execute starts a background command on the host and returns its process
// record. Fast commands come back already completed thanks to the quick
// wait; longer ones return running with the first slice of output.
func (h *ExecHandler) Execute(c *fiber.Ctx) error {
	host, fail := h.hosts.findHost(c)
	if host == nil {
		return fail
	}

	var req struct {
		Command string `json:"command"`
	}
	if err := c.BodyParser(&req); err != nil || req.Command == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Command is required",
		})
	}

	target, err := h.hosts.Target(host)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to decrypt credentials",
		})
	}

	rec, err := h.executor.Start(target, req.Command)
	if err != nil {
		return respondEngineError(c, err)
	}

	chunk, hasMore, readErr := h.executor.Registry().Read(rec.ID, 0, h.cfg.MaxOutputSize)
	if readErr != nil {
		chunk, hasMore = nil, false
	}

	return c.JSON(fiber.Map{
		"process_id":      rec.ID,
		"host":            rec.HostName,
		"command":         rec.Command,
		"status":          rec.State,
		"pid":             rec.RemotePID,
		"exit_code":       rec.ExitCode,
		"stdout":          string(chunk),
		"output_size":     len(rec.Output),
		"has_more_output": hasMore,
	})
}

// SyncExec runs a command synchronously, bounded by the command timeout.
func (h *ExecHandler) SyncExec(c *fiber.Ctx) error {
	host, fail := h.hosts.findHost(c)
	if host == nil {
		return fail
	}

	var req struct {
		Command string `json:"command"`
	}
	if err := c.BodyParser(&req); err != nil || req.Command == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Command is required",
		})
	}

	target, err := h.hosts.Target(host)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to decrypt credentials",
		})
	}

	start := time.Now()
	output, exitCode, err := h.executor.Exec(target, req.Command)
	if err != nil {
		return respondEngineError(c, err)
	}
	duration := time.Since(start)

	history := models.CommandHistory{
		HostID:     host.ID,
		Command:    req.Command,
		Output:     output,
		Status:     string(services.StateCompleted),
		ExitCode:   exitCode,
		ExecutedAt: start,
		DurationMs: int(duration.Milliseconds()),
	}
	h.hosts.GetDB().Create(&history)

	return c.JSON(fiber.Map{
		"command":     req.Command,
		"output":      output,
		"exit_code":   exitCode,
		"duration_ms": duration.Milliseconds(),
		"id":          history.ID,
	})
}

// Status returns a fresh snapshot of a background process.
func (h *ExecHandler) Status(c *fiber.Ctx) error {
	rec, target, fail := h.resolveProcess(c)
	if fail != nil {
		return fail
	}

	current, err := h.executor.Status(target, rec.ID)
	if err != nil {
		return respondEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"process_id":  current.ID,
		"host":        current.HostName,
		"command":     current.Command,
		"status":      current.State,
		"pid":         current.RemotePID,
		"exit_code":   current.ExitCode,
		"error":       current.LastError,
		"start_time":  current.StartTime,
		"output_size": len(current.Output),
	})
}

// Output serves one byte-range chunk of the accumulated output.
func (h *ExecHandler) Output(c *fiber.Ctx) error {
	rec, target, fail := h.resolveProcess(c)
	if fail != nil {
		return fail
	}

	startByte, _ := strconv.Atoi(c.Query("start_byte", "0"))
	chunkSize, _ := strconv.Atoi(c.Query("chunk_size", strconv.Itoa(h.cfg.ChunkSize)))
	if chunkSize <= 0 {
		chunkSize = h.cfg.ChunkSize
	}

	chunk, hasMore, err := h.executor.Read(target, rec.ID, startByte, chunkSize)
	if err != nil {
		return respondEngineError(c, err)
	}

	current, err := h.executor.Registry().Get(rec.ID)
	if err != nil {
		return respondEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"process_id":      rec.ID,
		"status":          current.State,
		"stdout":          string(chunk),
		"start_byte":      startByte,
		"bytes_returned":  len(chunk),
		"output_size":     len(current.Output),
		"has_more_output": hasMore,
	})
}

// KillProcess terminates a running background command.
func (h *ExecHandler) KillProcess(c *fiber.Ctx) error {
	rec, target, fail := h.resolveProcess(c)
	if fail != nil {
		return fail
	}

	cleanup := c.Query("cleanup_files", "false") == "true"
	if err := h.terminator.Kill(target, rec.ID, cleanup); err != nil {
		return respondEngineError(c, err)
	}

	current, err := h.executor.Registry().Get(rec.ID)
	if err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(fiber.Map{
		"process_id": current.ID,
		"status":     current.State,
		"message":    "Process killed",
	})
}

// RemoveProcess drops a record from the registry. This is the explicit
// cleanup; records are never garbage collected.
func (h *ExecHandler) RemoveProcess(c *fiber.Ctx) error {
	if err := h.executor.Registry().Remove(c.Params("pid")); err != nil {
		return respondEngineError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Process removed"})
}

// ListProcesses returns snapshots of every tracked record, newest first.
func (h *ExecHandler) ListProcesses(c *fiber.Ctx) error {
	records := h.executor.Registry().List()
	out := make([]fiber.Map, 0, len(records))
	for _, rec := range records {
		out = append(out, fiber.Map{
			"process_id":  rec.ID,
			"host":        rec.HostName,
			"command":     rec.Command,
			"status":      rec.State,
			"pid":         rec.RemotePID,
			"exit_code":   rec.ExitCode,
			"start_time":  rec.StartTime,
			"output_size": len(rec.Output),
		})
	}
	return c.JSON(fiber.Map{"processes": out})
}

// GetHistory lists persisted command outcomes for a host.
func (h *ExecHandler) GetHistory(c *fiber.Ctx) error {
	hostID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid host ID",
		})
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	db := h.hosts.GetDB()
	var total int64
	db.Model(&models.CommandHistory{}).Where("host_id = ?", hostID).Count(&total)

	var history []models.CommandHistory
	db.Where("host_id = ?", hostID).
		Order("executed_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&history)

	return c.JSON(fiber.Map{
		"history":  history,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// resolveProcess loads the registry record behind :pid and rebuilds the
// target it was launched against.
func (h *ExecHandler) resolveProcess(c *fiber.Ctx) (services.ProcessRecord, services.Target, error) {
	rec, err := h.executor.Registry().Get(c.Params("pid"))
	if err != nil {
		return services.ProcessRecord{}, services.Target{}, respondEngineError(c, err)
	}

	hostID, err := uuid.Parse(rec.HostID)
	if err != nil {
		return services.ProcessRecord{}, services.Target{}, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Process record has an invalid host reference",
		})
	}

	var host models.Host
	if err := h.hosts.GetDB().First(&host, "id = ?", hostID).Error; err != nil {
		return services.ProcessRecord{}, services.Target{}, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Host behind this process no longer exists",
		})
	}

	target, err := h.hosts.Target(&host)
	if err != nil {
		return services.ProcessRecord{}, services.Target{}, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to decrypt credentials",
		})
	}
	return rec, target, nil
}

// respondEngineError maps engine error kinds onto HTTP statuses.
func respondEngineError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch services.KindOf(err) {
	case services.KindValidation:
		status = fiber.StatusForbidden
	case services.KindConnection, services.KindLaunch:
		status = fiber.StatusBadGateway
	case services.KindConnectionTimeout, services.KindExecutionTimeout:
		status = fiber.StatusGatewayTimeout
	case services.KindNotFound:
		status = fiber.StatusNotFound
	case services.KindRange:
		status = fiber.StatusRequestedRangeNotSatisfiable
	case services.KindAlreadyTerminal:
		status = fiber.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}
