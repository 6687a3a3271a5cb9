package routes

import (
	"github.com/emirhankarahan/ferryman/internal/config"
	"github.com/emirhankarahan/ferryman/internal/handlers"
	"github.com/emirhankarahan/ferryman/internal/middleware"
	"github.com/gofiber/fiber/v2"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	hostHandler *handlers.HostHandler,
	execHandler *handlers.ExecHandler,
	streamHandler *handlers.StreamHandler,
	transferHandler *handlers.TransferHandler,
	securityHandler *handlers.SecurityHandler,
	systemHandler *handlers.SystemHandler,
) {
	// ─── Public ──────────────────────────────────────────────────────────
	app.Get("/api/health", systemHandler.Health)

	// ─── Auth ────────────────────────────────────────────────────────────
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/refresh", authHandler.Refresh)

	// ─── Protected routes ────────────────────────────────────────────────
	api := app.Group("/api", middleware.JWTProtected(cfg.JWTSecret))

	// Auth (protected)
	api.Get("/auth/me", authHandler.Me)

	// System
	api.Get("/system/info", systemHandler.Info)

	// Security policy
	api.Get("/security/policy", securityHandler.GetPolicy)
	api.Post("/security/check", securityHandler.CheckCommand)

	// Hosts
	api.Get("/hosts", hostHandler.ListHosts)
	api.Post("/hosts", hostHandler.CreateHost)
	api.Post("/hosts/import", hostHandler.ImportHosts)
	api.Get("/hosts/:id", hostHandler.GetHost)
	api.Put("/hosts/:id", hostHandler.UpdateHost)
	api.Delete("/hosts/:id", hostHandler.DeleteHost)
	api.Post("/hosts/:id/test", hostHandler.TestHost)

	// Command execution
	api.Post("/hosts/:id/execute", execHandler.Execute)
	api.Post("/hosts/:id/exec", execHandler.SyncExec)
	api.Get("/hosts/:id/history", execHandler.GetHistory)

	// Background processes
	api.Get("/processes", execHandler.ListProcesses)
	api.Get("/processes/:pid", execHandler.Status)
	api.Get("/processes/:pid/output", execHandler.Output)
	api.Post("/processes/:pid/kill", execHandler.KillProcess)
	api.Delete("/processes/:pid", execHandler.RemoveProcess)

	// Live output (WebSocket)
	api.Use("/processes/:pid/stream", streamHandler.UpgradeCheck())
	api.Get("/processes/:pid/stream", streamHandler.HandleStream())

	// Remote files
	api.Get("/hosts/:id/files", transferHandler.ListFiles)
	api.Get("/hosts/:id/files/content", transferHandler.ReadFile)
	api.Put("/hosts/:id/files/content", transferHandler.WriteFile)
}
