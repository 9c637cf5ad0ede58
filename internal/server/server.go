package server

import (
	"flowdeck/internal/handlers"
	"flowdeck/internal/middleware"
	"log"
	"os"
	"strings"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// HTTPDeps are the handlers and settings for the HTTP app
type HTTPDeps struct {
	Health         *handlers.HealthHandler
	API            *handlers.SessionAPIHandler
	StaticDir      string
	AllowedOrigins string
	RateLimit      *middleware.RateLimitConfig
	// EnableMetrics registers /metrics. The Prometheus collectors are global, so only
	// one app per process may enable it.
	EnableMetrics bool
	AccessLog     bool
}

// NewHTTPApp builds the app serving the static UI, health, REST API and metrics
func NewHTTPApp(d HTTPDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "flowdeck",
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	})

	app.Use(recover.New())
	if d.AccessLog {
		app.Use(logger.New())
	}

	if d.EnableMetrics {
		prometheus := fiberprometheus.New("flowdeck")
		prometheus.RegisterAt(app, "/metrics")
		app.Use(prometheus.Middleware)
		log.Println("📊 Prometheus metrics endpoint enabled at /metrics")
	}

	allowedOrigins := d.AllowedOrigins
	if allowedOrigins == "" {
		allowedOrigins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowedOrigins != "*",
	}))

	rateLimit := d.RateLimit
	if rateLimit == nil {
		rateLimit = middleware.DefaultRateLimitConfig()
	}

	app.Get("/health", d.Health.Handle)

	api := app.Group("/api", middleware.APIRateLimiter(rateLimit))
	api.Get("/sessions", d.API.ListLive)
	api.Get("/sessions/saved", d.API.ListSaved)
	api.Get("/sessions/:id", d.API.GetSession)
	api.Get("/agents", d.API.ListAgents)
	api.Get("/memory", d.API.Memory)
	api.Get("/commands", d.API.Commands)

	if d.StaticDir != "" {
		if _, err := os.Stat(d.StaticDir); err == nil {
			app.Static("/", d.StaticDir, fiber.Static{
				Compress: true,
				Index:    "index.html",
			})
			log.Printf("🌐 Static UI serving from %s", d.StaticDir)
		} else {
			log.Printf("⚠️  Static UI directory %s not found", d.StaticDir)
		}
	}

	return app
}

// NewWSApp builds the app that upgrades panel connections on / and /ws
func NewWSApp(panel *handlers.PanelHandler, allowedOrigins string, rateLimit *middleware.RateLimitConfig) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "flowdeck-ws",
	})

	app.Use(recover.New())

	app.Use(func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			c.Locals("client_ip", c.IP())
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	if rateLimit == nil {
		rateLimit = middleware.DefaultRateLimitConfig()
	}
	app.Use(middleware.WebSocketRateLimiter(rateLimit))

	wsConfig := websocket.Config{}
	if allowedOrigins != "" && allowedOrigins != "*" {
		wsConfig.Origins = strings.Split(allowedOrigins, ",")
	}

	handler := websocket.New(panel.Handle, wsConfig)
	app.Get("/", handler)
	app.Get("/ws", handler)

	return app
}
