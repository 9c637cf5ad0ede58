package main

import (
	"context"
	"flowdeck/internal/config"
	"flowdeck/internal/handlers"
	"flowdeck/internal/jobs"
	"flowdeck/internal/logging"
	"flowdeck/internal/middleware"
	"flowdeck/internal/preflight"
	"flowdeck/internal/server"
	"flowdeck/internal/services"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting flowdeck...")

	cfg := config.Load()
	log.Printf("📋 Configuration loaded (HTTP: %s, WS: %s, sessions: %s)", cfg.HTTPPort, cfg.WSPort, cfg.SessionsDir)

	checker := preflight.NewChecker(cfg.SessionsDir, cfg.StaticDir, cfg.CLICommand, cfg.AutosaveSchedule)
	if preflight.HasFailures(checker.RunAll()) {
		log.Println("❌ Pre-flight checks failed. Please fix the issues above before starting the server.")
		os.Exit(1)
	}

	// Global memory mirror: Redis when configured and reachable, in-process otherwise
	var mirror services.MemoryMirror = services.NewCacheMirror()
	var redisService *services.RedisService
	if cfg.RedisURL != "" {
		log.Println("🔗 Connecting to Redis...")
		var err error
		redisService, err = services.NewRedisService(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️ Failed to connect to Redis: %v (using in-process memory mirror)", err)
		} else {
			mirror = services.NewRedisMirror(redisService)
			log.Println("✅ Memory mirror backed by Redis")
		}
	} else {
		log.Println("⚠️ REDIS_URL not set - using in-process memory mirror")
	}

	registry := services.NewSessionRegistry()
	memoryStore := services.NewMemoryStore(mirror)
	sessionStore := services.NewSessionStore(cfg.SessionsDir)
	sessionService := services.NewSessionService(registry, memoryStore, sessionStore)
	connManager := services.NewConnectionManager()
	statusService := services.NewStatusService(registry, connManager)

	services.InitMetrics(connManager, registry)
	log.Println("✅ Prometheus metrics initialized")

	// Commands run under rootCtx: a client disconnect never cancels them, shutdown does
	rootCtx, cancelCommands := context.WithCancel(context.Background())
	defer cancelCommands()

	catalog := services.NewCommandCatalog(cfg.CLICommand, cfg.CommandsFile)
	go catalog.Watch(rootCtx)
	invoker := services.NewCommandInvoker(catalog, cfg.MaxOutputBytes, cfg.CommandTimeout)
	log.Printf("✅ Command catalog ready (%d commands, CLI: %s)", len(catalog.Entries()), cfg.CLICommand)

	panelHandler := handlers.NewPanelHandler(
		rootCtx,
		connManager,
		registry,
		memoryStore,
		sessionService,
		invoker,
		statusService,
		handlers.PanelOptions{
			SpawnViaCLI: cfg.SpawnViaCLI,
			MessageRate: cfg.WSMessageRate,
		},
	)

	var jobScheduler *jobs.JobScheduler
	if cfg.AutosaveSchedule != "" {
		var err error
		jobScheduler, err = jobs.NewJobScheduler()
		if err != nil {
			log.Printf("⚠️ Failed to create job scheduler: %v (autosave disabled)", err)
		} else if err := jobScheduler.Register(jobs.AutosaveJobName, cfg.AutosaveSchedule, jobs.NewAutosaveJob(sessionService)); err != nil {
			log.Printf("⚠️ Failed to register autosave: %v", err)
		} else {
			jobScheduler.Start()
		}
	}

	rateLimitConfig := middleware.LoadRateLimitConfig()
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: API=%d/min, WS=%d/min", rateLimitConfig.APIMax, rateLimitConfig.WebSocketMax)

	httpApp := server.NewHTTPApp(server.HTTPDeps{
		Health:         handlers.NewHealthHandler(statusService),
		API:            handlers.NewSessionAPIHandler(registry, memoryStore, sessionService, catalog),
		StaticDir:      cfg.StaticDir,
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      rateLimitConfig,
		EnableMetrics:  true,
		AccessLog:      !cfg.IsProduction(),
	})
	wsApp := server.NewWSApp(panelHandler, cfg.AllowedOrigins, rateLimitConfig)

	log.Printf("✅ Panel ready on http://localhost:%s", cfg.HTTPPort)
	log.Printf("🔗 WebSocket endpoint: ws://localhost:%s/ws", cfg.WSPort)
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.HTTPPort)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")

		if jobScheduler != nil {
			jobScheduler.Stop()
		}

		// Best-effort flush of every live session before exit
		saved, err := sessionService.SaveAll(false)
		if err != nil {
			log.Printf("⚠️ Some sessions could not be saved: %v", err)
		}
		log.Printf("💾 Saved %d session(s)", saved)

		cancelCommands()

		if err := wsApp.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down WebSocket server: %v", err)
		}
		if err := httpApp.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down HTTP server: %v", err)
		}
		if redisService != nil {
			redisService.Close()
		}
	}()

	var g errgroup.Group
	g.Go(func() error {
		return httpApp.Listen(":" + cfg.HTTPPort)
	})
	g.Go(func() error {
		return wsApp.Listen(":" + cfg.WSPort)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
	log.Println("👋 Server stopped")
}
