package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-judge-api/internal/observability"
)

func correlationApp() *fiber.App {
	app := fiber.New()
	app.Use(CorrelationID())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(observability.CorrelationID(c.UserContext()))
	})
	return app
}

func TestCorrelationIDEchoesIncomingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "judge-123")

	resp, err := correlationApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, "judge-123", resp.Header.Get(CorrelationHeader))
	require.Equal(t, "judge-123", readBody(t, resp))
}

func TestCorrelationIDFallsBackToRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-9")

	resp, err := correlationApp().Test(req)
	require.NoError(t, err)
	require.Equal(t, "req-9", resp.Header.Get(CorrelationHeader))
}

func TestCorrelationIDGeneratesWhenMissing(t *testing.T) {
	resp, err := correlationApp().Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	generated := resp.Header.Get(CorrelationHeader)
	_, err = uuid.Parse(generated)
	require.NoError(t, err)
	require.Equal(t, generated, readBody(t, resp))
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
