package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRegisterRecoversPanicsAndTagsResponses(t *testing.T) {
	app := fiber.New()
	Register(app, Config{Logger: zerolog.Nop()})
	app.Get("/api/v2/judge/boom", func(c *fiber.Ctx) error {
		panic("evaluation exploded")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v2/judge/boom", nil)
	req.Header.Set("Origin", "https://lab.example.com")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(CorrelationHeader))
	require.Equal(t, "*", resp.Header.Get(fiber.HeaderAccessControlAllowOrigin))
}
