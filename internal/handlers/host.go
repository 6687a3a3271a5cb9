package handlers

import (
	"log/slog"
	"os"
	"time"

	"github.com/emirhankarahan/ferryman/internal/config"
	"github.com/emirhankarahan/ferryman/internal/crypto"
	"github.com/emirhankarahan/ferryman/internal/models"
	"github.com/emirhankarahan/ferryman/internal/services"
	"github.com/emirhankarahan/ferryman/internal/sshconfig"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type HostHandler struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
	pool      *services.SSHPool
	cfg       *config.Config
}

func NewHostHandler(db *gorm.DB, encryptor *crypto.Encryptor, pool *services.SSHPool, cfg *config.Config) *HostHandler {
	return &HostHandler{db: db, encryptor: encryptor, pool: pool, cfg: cfg}
}

func (h *HostHandler) ListHosts(c *fiber.Ctx) error {
	var hosts []models.Host
	if err := h.db.Order("created_at DESC").Find(&hosts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list hosts",
		})
	}
	return c.JSON(fiber.Map{"hosts": hosts})
}

func (h *HostHandler) CreateHost(c *fiber.Ctx) error {
	var req struct {
		Name       string `json:"name"`
		Host       string `json:"host"`
		Port       int    `json:"port"`
		Username   string `json:"username"`
		AuthType   string `json:"auth_type"`
		Password   string `json:"password"`
		PrivateKey string `json:"private_key"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if req.Name == "" || req.Host == "" || req.Username == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Name, host, and username are required",
		})
	}
	if req.Port == 0 {
		req.Port = 22
	}
	if req.AuthType == "" {
		req.AuthType = "password"
	}

	// Test connection first
	creds := services.Credentials{
		Username:   req.Username,
		Password:   req.Password,
		PrivateKey: req.PrivateKey,
		AuthType:   req.AuthType,
	}
	fingerprint, err := services.TestConnection(req.Host, req.Port, creds, h.cfg.ConnectTimeout)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "SSH connection test failed: " + err.Error(),
		})
	}

	host := models.Host{
		Name:        req.Name,
		Host:        req.Host,
		Port:        req.Port,
		Username:    req.Username,
		AuthType:    req.AuthType,
		Fingerprint: fingerprint,
		Status:      "online",
	}
	now := time.Now()
	host.LastConnectedAt = &now

	if req.AuthType == "key" && req.PrivateKey != "" {
		encrypted, err := h.encryptor.Encrypt(req.PrivateKey)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to encrypt private key",
			})
		}
		host.EncryptedPrivateKey = encrypted
	} else if req.Password != "" {
		encrypted, err := h.encryptor.Encrypt(req.Password)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":   true,
				"message": "Failed to encrypt password",
			})
		}
		host.EncryptedPassword = encrypted
	}

	if err := h.db.Create(&host).Error; err != nil {
		slog.Error("Failed to create host", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create host",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(host)
}

func (h *HostHandler) GetHost(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid host ID",
		})
	}

	var host models.Host
	if err := h.db.First(&host, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Host not found",
		})
	}
	return c.JSON(host)
}

func (h *HostHandler) UpdateHost(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid host ID",
		})
	}

	var host models.Host
	if err := h.db.First(&host, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Host not found",
		})
	}

	var req struct {
		Name       *string `json:"name"`
		Host       *string `json:"host"`
		Port       *int    `json:"port"`
		Username   *string `json:"username"`
		AuthType   *string `json:"auth_type"`
		Password   *string `json:"password"`
		PrivateKey *string `json:"private_key"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	if req.Name != nil {
		host.Name = *req.Name
	}
	if req.Host != nil {
		host.Host = *req.Host
	}
	if req.Port != nil {
		host.Port = *req.Port
	}
	if req.Username != nil {
		host.Username = *req.Username
	}
	if req.AuthType != nil {
		host.AuthType = *req.AuthType
	}
	if req.Password != nil && *req.Password != "" {
		if encrypted, err := h.encryptor.Encrypt(*req.Password); err == nil {
			host.EncryptedPassword = encrypted
		}
	}
	if req.PrivateKey != nil && *req.PrivateKey != "" {
		if encrypted, err := h.encryptor.Encrypt(*req.PrivateKey); err == nil {
			host.EncryptedPrivateKey = encrypted
		}
	}

	if err := h.db.Save(&host).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to update host",
		})
	}
	return c.JSON(host)
}

func (h *HostHandler) DeleteHost(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid host ID",
		})
	}

	if err := h.db.Delete(&models.Host{}, "id = ?", id).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete host",
		})
	}
	return c.JSON(fiber.Map{"message": "Host deleted"})
}

func (h *HostHandler) TestHost(c *fiber.Ctx) error {
	host, fail := h.findHost(c)
	if host == nil {
		return fail
	}

	creds, err := h.decryptCredentials(host)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to decrypt credentials",
		})
	}

	fingerprint, err := services.TestConnection(host.Host, host.Port, creds, h.cfg.ConnectTimeout)
	if err != nil {
		h.db.Model(host).Update("status", "offline")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   true,
			"message": "Connection failed: " + err.Error(),
		})
	}

	now := time.Now()
	h.db.Model(host).Updates(map[string]interface{}{
		"status":            "online",
		"fingerprint":       fingerprint,
		"last_connected_at": now,
	})

	return c.JSON(fiber.Map{
		"message":     "Connection successful",
		"fingerprint": fingerprint,
	})
}

// ImportHosts reads the local SSH client config and registers every concrete
// host entry that is not yet known. Key material referenced by IdentityFile
// is read and stored encrypted.
func (h *HostHandler) ImportHosts(c *fiber.Ctx) error {
	path := c.Query("path", sshconfig.DefaultPath())

	entries, err := sshconfig.Parse(path)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to parse SSH config: " + err.Error(),
		})
	}

	imported := 0
	skipped := 0
	for _, entry := range entries {
		var existing models.Host
		if err := h.db.First(&existing, "name = ?", entry.Name).Error; err == nil {
			skipped++
			continue
		}
		if entry.User == "" || entry.IdentityFile == "" {
			skipped++
			continue
		}

		keyData, err := os.ReadFile(entry.IdentityFile)
		if err != nil {
			slog.Warn("Skipping SSH config host, key not readable",
				"host", entry.Name, "identity_file", entry.IdentityFile)
			skipped++
			continue
		}
		encrypted, err := h.encryptor.Encrypt(string(keyData))
		if err != nil {
			skipped++
			continue
		}

		host := models.Host{
			Name:                entry.Name,
			Host:                entry.Hostname,
			Port:                entry.Port,
			Username:            entry.User,
			AuthType:            "key",
			EncryptedPrivateKey: encrypted,
		}
		if err := h.db.Create(&host).Error; err != nil {
			slog.Error("Failed to import host", "host", entry.Name, "error", err)
			skipped++
			continue
		}
		imported++
	}

	slog.Info("SSH config import finished", "imported", imported, "skipped", skipped)
	return c.JSON(fiber.Map{
		"imported": imported,
		"skipped":  skipped,
	})
}

// findHost resolves the :id route param. On failure the second return value
// is the already-written fiber response.
func (h *HostHandler) findHost(c *fiber.Ctx) (*models.Host, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid host ID",
		})
	}

	var host models.Host
	if err := h.db.First(&host, "id = ?", id).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Host not found",
		})
	}
	return &host, nil
}

func (h *HostHandler) decryptCredentials(host *models.Host) (services.Credentials, error) {
	creds := services.Credentials{
		Username: host.Username,
		AuthType: host.AuthType,
	}
	if host.EncryptedPassword != "" {
		password, err := h.encryptor.Decrypt(host.EncryptedPassword)
		if err != nil {
			return services.Credentials{}, err
		}
		creds.Password = password
	}
	if host.EncryptedPrivateKey != "" {
		key, err := h.encryptor.Decrypt(host.EncryptedPrivateKey)
		if err != nil {
			return services.Credentials{}, err
		}
		creds.PrivateKey = key
	}
	return creds, nil
}

// Target builds the resolved endpoint the engine operates on.
func (h *HostHandler) Target(host *models.Host) (services.Target, error) {
	creds, err := h.decryptCredentials(host)
	if err != nil {
		return services.Target{}, err
	}
	return services.Target{
		ID:          host.ID.String(),
		Name:        host.Name,
		Host:        host.Host,
		Port:        host.Port,
		Credentials: creds,
	}, nil
}

// GetDB exposes the database handle to sibling handlers.
func (h *HostHandler) GetDB() *gorm.DB { return h.db }

// GetPool exposes the SSH connection pool to sibling handlers.
func (h *HostHandler) GetPool() *services.SSHPool { return h.pool }
