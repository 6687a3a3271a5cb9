package handlers

import (
	"log/slog"
	"time"

	"github.com/emirhankarahan/ferryman/internal/models"
	"github.com/emirhankarahan/ferryman/internal/services"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const streamPollInterval = 1 * time.Second

type StreamHandler struct {
	hosts    *HostHandler
	executor *services.Executor
}

func NewStreamHandler(hosts *HostHandler, executor *services.Executor) *StreamHandler {
	return &StreamHandler{hosts: hosts, executor: executor}
}

// UpgradeCheck is middleware that checks if the request is a websocket upgrade
func (h *StreamHandler) UpgradeCheck() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

// HandleStream pushes process output over a WebSocket as it arrives. Each
// frame carries only the bytes that appeared since the previous one; the
// final frame reports the terminal state and exit code.
func (h *StreamHandler) HandleStream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		rec, err := h.executor.Registry().Get(c.Params("pid"))
		if err != nil {
			c.WriteJSON(fiber.Map{"error": true, "message": "Process not found"})
			return
		}

		hostID, err := uuid.Parse(rec.HostID)
		if err != nil {
			c.WriteJSON(fiber.Map{"error": true, "message": "Process record has an invalid host reference"})
			return
		}

		var host models.Host
		if err := h.hosts.GetDB().First(&host, "id = ?", hostID).Error; err != nil {
			c.WriteJSON(fiber.Map{"error": true, "message": "Host behind this process no longer exists"})
			return
		}

		target, err := h.hosts.Target(&host)
		if err != nil {
			c.WriteJSON(fiber.Map{"error": true, "message": "Failed to decrypt credentials"})
			return
		}

		slog.Info("Output stream started", "process_id", rec.ID, "host", rec.HostName)

		// Drop the connection when the client goes away so the poll
		// loop below notices via a failed write.
		closed := make(chan struct{})
		go func() {
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					close(closed)
					return
				}
			}
		}()

		offset := 0
		for {
			select {
			case <-closed:
				slog.Info("Output stream client disconnected", "process_id", rec.ID)
				return
			default:
			}

			current, err := h.executor.Status(target, rec.ID)
			if err != nil {
				c.WriteJSON(fiber.Map{"error": true, "message": err.Error()})
				return
			}

			if offset < len(current.Output) {
				chunk := current.Output[offset:]
				offset = len(current.Output)
				if err := c.WriteMessage(websocket.TextMessage, chunk); err != nil {
					return
				}
			}

			if current.State.Terminal() {
				c.WriteJSON(fiber.Map{
					"done":      true,
					"status":    current.State,
					"exit_code": current.ExitCode,
					"error":     current.LastError,
				})
				slog.Info("Output stream finished", "process_id", rec.ID, "status", current.State)
				return
			}

			time.Sleep(streamPollInterval)
		}
	})
}
