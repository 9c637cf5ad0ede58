package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func TestLoadRateLimitConfig_Overrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("RATE_LIMIT_API", "42")
	t.Setenv("RATE_LIMIT_WEBSOCKET", "not-a-number")

	cfg := LoadRateLimitConfig()
	if cfg.APIMax != 42 {
		t.Errorf("Expected APIMax 42, got %d", cfg.APIMax)
	}
	if cfg.WebSocketMax != DefaultRateLimitConfig().WebSocketMax {
		t.Errorf("Expected default WebSocketMax on invalid input, got %d", cfg.WebSocketMax)
	}
}

func TestAPIRateLimiter_Blocks(t *testing.T) {
	app := fiber.New()
	app.Use("/api", APIRateLimiter(&RateLimitConfig{APIMax: 2, APIExpiration: time.Minute}))
	app.Get("/api/ping", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/ping", nil))
		if err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest("GET", "/api/ping", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("Expected 429 after limit, got %d", resp.StatusCode)
	}
}
