package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emirhankarahan/ferryman/internal/security"
	"github.com/emirhankarahan/ferryman/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondEngineErrorStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		kind   services.Kind
		status int
	}{
		{services.KindValidation, fiber.StatusForbidden},
		{services.KindConnection, fiber.StatusBadGateway},
		{services.KindLaunch, fiber.StatusBadGateway},
		{services.KindConnectionTimeout, fiber.StatusGatewayTimeout},
		{services.KindExecutionTimeout, fiber.StatusGatewayTimeout},
		{services.KindNotFound, fiber.StatusNotFound},
		{services.KindRange, fiber.StatusRequestedRangeNotSatisfiable},
		{services.KindAlreadyTerminal, fiber.StatusConflict},
	}

	for _, tc := range cases {
		app := fiber.New()
		kind := tc.kind
		app.Get("/fail", func(c *fiber.Ctx) error {
			return respondEngineError(c, &services.Error{Kind: kind, Message: "boom"})
		})

		resp, err := app.Test(httptest.NewRequest("GET", "/fail", nil))
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, "kind %s", tc.kind)

		var body struct {
			Error   bool   `json:"error"`
			Message string `json:"message"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.True(t, body.Error)
		assert.Equal(t, "boom", body.Message)
	}
}

func TestRespondEngineErrorDefaultsToInternalError(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/fail", func(c *fiber.Ctx) error {
		return respondEngineError(c, assert.AnError)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func securityApp() *fiber.App {
	policy := security.NewPolicy(security.ModeBlacklist, "", "", false)
	handler := NewSecurityHandler(security.NewValidator(policy, nil))

	app := fiber.New()
	app.Get("/api/security/policy", handler.GetPolicy)
	app.Post("/api/security/check", handler.CheckCommand)
	return app
}

func TestSecurityPolicyIntrospection(t *testing.T) {
	t.Parallel()

	resp, err := securityApp().Test(httptest.NewRequest("GET", "/api/security/policy", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Mode           string   `json:"mode"`
		CaseSensitive  bool     `json:"case_sensitive"`
		Blacklist      []string `json:"blacklist_patterns"`
		BlacklistCount int      `json:"blacklist_count"`
		WhitelistCount int      `json:"whitelist_count"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "blacklist", body.Mode)
	assert.False(t, body.CaseSensitive)
	assert.Equal(t, len(security.DefaultBlacklistPatterns), body.BlacklistCount)
	assert.Equal(t, security.DefaultBlacklistPatterns, body.Blacklist)
	assert.Zero(t, body.WhitelistCount)
}

func TestSecurityCheckCommand(t *testing.T) {
	t.Parallel()

	app := securityApp()

	req := httptest.NewRequest("POST", "/api/security/check",
		strings.NewReader(`{"command":"rm -rf /"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Allowed        bool   `json:"allowed"`
		MatchedPattern string `json:"matched_pattern"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Allowed)
	assert.NotEmpty(t, body.MatchedPattern)

	req = httptest.NewRequest("POST", "/api/security/check",
		strings.NewReader(`{"command":"uptime"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"allowed":true`)
}

func TestSanitizePath(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"/var/log/syslog", "/home/deploy/app config.yaml", "relative/path"} {
		assert.True(t, sanitizePath(ok), "expected %q to pass", ok)
	}
	for _, bad := range []string{"", "/tmp; rm -rf /", "$(whoami)", "`id`", "/etc/passwd > /dev/null", "a|b"} {
		assert.False(t, sanitizePath(bad), "expected %q to fail", bad)
	}
}

func TestBuildInitials(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SA", buildInitials("site admin"))
	assert.Equal(t, "J", buildInitials("Jo"))
	assert.Equal(t, "", buildInitials(""))
	assert.Equal(t, "AB", buildInitials("Ann Barr Cole"))
}
