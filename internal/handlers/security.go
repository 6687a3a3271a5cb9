package handlers

import (
	"github.com/emirhankarahan/ferryman/internal/security"
	"github.com/gofiber/fiber/v2"
)

type SecurityHandler struct {
	validator *security.Validator
}

func NewSecurityHandler(validator *security.Validator) *SecurityHandler {
	return &SecurityHandler{validator: validator}
}

// GetPolicy exposes the active validation policy so operators can see
// which patterns are in force without reading the environment.
func (h *SecurityHandler) GetPolicy(c *fiber.Ctx) error {
	policy := h.validator.Policy()
	blacklist := policy.BlacklistPatterns()
	whitelist := policy.WhitelistPatterns()

	return c.JSON(fiber.Map{
		"mode":               policy.Mode,
		"case_sensitive":     policy.CaseSensitive,
		"blacklist_patterns": blacklist,
		"whitelist_patterns": whitelist,
		"blacklist_count":    len(blacklist),
		"whitelist_count":    len(whitelist),
	})
}

// CheckCommand dry-runs a command through the validator without executing it.
func (h *SecurityHandler) CheckCommand(c *fiber.Ctx) error {
	var req struct {
		Command string `json:"command"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}

	d := h.validator.Validate(req.Command, "dry-run")
	return c.JSON(fiber.Map{
		"command":         req.Command,
		"allowed":         d.Allowed,
		"reason":          d.Reason,
		"matched_pattern": d.MatchedPattern,
	})
}
