package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/emirhankarahan/ferryman/internal/config"
	"github.com/emirhankarahan/ferryman/internal/models"
	"github.com/gofiber/fiber/v2"
)

// maxTransferBytes bounds how much of a remote file a single read returns.
const maxTransferBytes = 1048576

type TransferHandler struct {
	hosts *HostHandler
	cfg   *config.Config
}

func NewTransferHandler(hosts *HostHandler, cfg *config.Config) *TransferHandler {
	return &TransferHandler{hosts: hosts, cfg: cfg}
}

// sanitizePath validates the path does not contain shell injection characters.
func sanitizePath(path string) bool {
	dangerous := []string{";", "&", "|", "$", "`", "'", "\"", "(", ")", "{", "}", "<", ">", "\n", "\r"}
	for _, ch := range dangerous {
		if strings.Contains(path, ch) {
			return false
		}
	}
	return path != "" && len(path) <= 4096
}

// execSSH runs one command on the host over a pooled connection, bounded by
// the transfer timeout. An optional stdin payload is piped to the command.
func (h *TransferHandler) execSSH(host *models.Host, command, stdin string) (string, error) {
	target, err := h.hosts.Target(host)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	conn, err := h.hosts.GetPool().Acquire(target.Host, target.Port, target.Credentials)
	if err != nil {
		return "", fmt.Errorf("SSH connection failed: %w", err)
	}

	session, err := conn.Client.NewSession()
	if err != nil {
		h.hosts.GetPool().Release(conn)
		return "", fmt.Errorf("SSH session failed: %w", err)
	}

	if stdin != "" {
		session.Stdin = strings.NewReader(stdin)
	}

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := session.CombinedOutput(command)
		done <- result{output, err}
	}()

	select {
	case res := <-done:
		session.Close()
		h.hosts.GetPool().Release(conn)
		return string(res.output), res.err
	case <-time.After(h.cfg.TransferTimeout):
		session.Close()
		h.hosts.GetPool().Discard(conn)
		return "", fmt.Errorf("transfer timed out after %s", h.cfg.TransferTimeout)
	}
}

// ListFiles returns a directory listing.
func (h *TransferHandler) ListFiles(c *fiber.Ctx) error {
	host, fail := h.hosts.findHost(c)
	if host == nil {
		return fail
	}

	path := c.Query("path", "/")
	if !sanitizePath(path) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid path",
		})
	}

	output, err := h.execSSH(host, fmt.Sprintf("ls -la %s", path), "")
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list files: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"path":    path,
		"listing": output,
	})
}

// ReadFile returns the content of a remote file, capped at 1MB.
func (h *TransferHandler) ReadFile(c *fiber.Ctx) error {
	host, fail := h.hosts.findHost(c)
	if host == nil {
		return fail
	}

	path := c.Query("path", "")
	if !sanitizePath(path) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Valid path is required",
		})
	}

	output, err := h.execSSH(host, fmt.Sprintf("head -c %d %s", maxTransferBytes, path), "")
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to read file: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"path":      path,
		"content":   output,
		"truncated": len(output) >= maxTransferBytes,
	})
}

// WriteFile replaces the content of a remote file via stdin, avoiding any
// shell quoting of the payload itself.
func (h *TransferHandler) WriteFile(c *fiber.Ctx) error {
	host, fail := h.hosts.findHost(c)
	if host == nil {
		return fail
	}

	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if !sanitizePath(req.Path) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Valid path is required",
		})
	}

	if _, err := h.execSSH(host, fmt.Sprintf("cat > %s", req.Path), req.Content); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to write file: " + err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"path":    req.Path,
		"written": len(req.Content),
	})
}
