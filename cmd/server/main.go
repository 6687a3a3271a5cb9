package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emirhankarahan/ferryman/internal/audit"
	"github.com/emirhankarahan/ferryman/internal/config"
	"github.com/emirhankarahan/ferryman/internal/crypto"
	"github.com/emirhankarahan/ferryman/internal/database"
	"github.com/emirhankarahan/ferryman/internal/handlers"
	"github.com/emirhankarahan/ferryman/internal/routes"
	"github.com/emirhankarahan/ferryman/internal/security"
	"github.com/emirhankarahan/ferryman/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// JSON structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting Ferryman", "version", handlers.Version)

	// ─── Config ──────────────────────────────────────────────────────────
	cfg := config.Load()

	// ─── Database ────────────────────────────────────────────────────────
	if err := database.Connect(cfg); err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}

	if err := database.Migrate(); err != nil {
		slog.Error("Database migration failed", "error", err)
		os.Exit(1)
	}

	db := database.DB

	// ─── Encryption ─────────────────────────────────────────────────────
	var encryptor *crypto.Encryptor
	if cfg.SSHEncryptionKey != "" {
		var err error
		encryptor, err = crypto.NewEncryptor(cfg.SSHEncryptionKey)
		if err != nil {
			slog.Error("Failed to create encryptor", "error", err)
			os.Exit(1)
		}
		slog.Info("SSH credential encryption initialized")
	} else {
		slog.Warn("SSH_ENCRYPTION_KEY not set, credentials will not be encrypted")
		// Create a dummy encryptor with a default key for development
		encryptor, _ = crypto.NewEncryptor("0000000000000000000000000000000000000000000000000000000000000000")
	}

	// ─── Engine ─────────────────────────────────────────────────────────
	recorder := audit.NewRecorder(db)

	policy := security.NewPolicy(cfg.SecurityMode, cfg.CommandBlacklist,
		cfg.CommandWhitelist, cfg.CaseSensitive)
	validator := security.NewValidator(policy, recorder)
	slog.Info("Security policy loaded", "mode", policy.Mode,
		"blacklist", len(policy.BlacklistPatterns()),
		"whitelist", len(policy.WhitelistPatterns()))

	sshPool := services.NewSSHPool(cfg.PoolSize, cfg.ReuseConnections, cfg.ConnectTimeout)
	registry := services.NewProcessRegistry()
	runner := services.NewSSHRunner(sshPool)
	executor := services.NewExecutor(validator, registry, runner, recorder,
		cfg.CommandTimeout, cfg.ReadTimeout, cfg.QuickWaitTime)
	terminator := services.NewTerminator(registry, runner, recorder, cfg.ReadTimeout)

	// ─── Handlers ───────────────────────────────────────────────────────
	authHandler := handlers.NewAuthHandler(cfg)
	hostHandler := handlers.NewHostHandler(db, encryptor, sshPool, cfg)
	execHandler := handlers.NewExecHandler(hostHandler, executor, terminator, cfg)
	streamHandler := handlers.NewStreamHandler(hostHandler, executor)
	transferHandler := handlers.NewTransferHandler(hostHandler, cfg)
	securityHandler := handlers.NewSecurityHandler(validator)
	systemHandler := handlers.NewSystemHandler(db, sshPool, registry)

	// ─── Fiber App ──────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      "ferryman v" + handlers.Version,
		ServerHeader: "ferryman",
		BodyLimit:    10 * 1024 * 1024, // 10MB for file writes
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal server error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": message,
			})
		},
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, PATCH, OPTIONS",
	}))

	app.Use(recover.New(recover.Config{
		EnableStackTrace: false,
	}))

	// Security headers
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Request logger
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if c.Path() == "/api/health" {
			return err
		}
		slog.Info("request",
			"method", c.Method(),
			"path", c.Path(),
			"status", c.Response().StatusCode(),
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)
		return err
	})

	// ─── Routes ─────────────────────────────────────────────────────────
	routes.Setup(app, cfg, authHandler, hostHandler, execHandler,
		streamHandler, transferHandler, securityHandler, systemHandler)

	// ─── Graceful Shutdown ──────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down Ferryman...")

		sshPool.CloseAll()

		if err := app.Shutdown(); err != nil {
			slog.Error("Fiber shutdown error", "error", err)
		}

		if sqlDB, err := database.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}()

	// ─── Start ──────────────────────────────────────────────────────────
	listenAddr := ":" + cfg.Port
	slog.Info("Ferryman listening", "addr", listenAddr)

	if err := app.Listen(listenAddr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}
