package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taskdeck/backend/internal/assistant"
	"github.com/taskdeck/backend/internal/config"
	"github.com/taskdeck/backend/internal/database"
	"github.com/taskdeck/backend/internal/events"
	"github.com/taskdeck/backend/internal/handlers"
	"github.com/taskdeck/backend/internal/metrics"
	"github.com/taskdeck/backend/internal/middleware"
	"github.com/taskdeck/backend/internal/reindex"
	"github.com/taskdeck/backend/internal/undo"
)

func main() {
	// .env is optional; real deployments inject the environment directly.
	_ = godotenv.Load()

	cfg := loadConfig()

	// Port from environment wins (Cloud Run requirement)
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}

	supabaseClient, err := database.NewSupabaseClient()
	if err != nil {
		log.Fatalf("Failed to initialize Supabase client: %v", err)
	}

	m := metrics.NewMetrics()

	// Event bus: in-process always; Redis fan-out when configured so SSE
	// streams work across pods.
	bus := events.NewBus()
	var emitter events.Emitter = bus
	if cfg.Redis.Enabled {
		redisBus, err := events.NewRedisBus(cfg.Redis.Addr, os.Getenv("REDIS_PASSWORD"), cfg.Redis.DB, bus)
		if err != nil {
			slog.Warn("Redis unavailable, falling back to in-process events", "error", err)
		} else {
			emitter = redisBus
			defer redisBus.Close()
		}
	}

	provider := assistant.NewHTTPProvider(
		cfg.Assistant.APIBase,
		os.Getenv("OPENAI_API_KEY"),
		cfg.Assistant.Model,
		time.Duration(cfg.Assistant.TimeoutSeconds)*time.Second,
	)
	if !provider.Configured() {
		slog.Warn("OPENAI_API_KEY not set, assistant reports not configured")
	}

	executor := assistant.NewExecutor(supabaseClient, provider, emitter, m)
	orchestrator := undo.NewOrchestrator(supabaseClient, supabaseClient)
	enqueuer := reindex.NewEnqueuer(supabaseClient, supabaseClient, m)
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		MaxCallsPerMinute: cfg.Limits.MaxCommandsPerMinute,
		BurstSize:         cfg.Limits.BurstSize,
	})

	commandTimeout := time.Duration(cfg.Assistant.TimeoutSeconds) * time.Second

	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.HandleHealth(supabaseClient)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := func(h http.HandlerFunc) http.HandlerFunc {
		return middleware.WorkspaceAuth(supabaseClient, h)
	}
	api.HandleFunc("/ai/command", auth(limiter.Middleware(handlers.HandleCommand(executor, commandTimeout)))).Methods("POST")
	api.HandleFunc("/ai/command", auth(handlers.HandleCommandStatus(executor))).Methods("GET")
	api.HandleFunc("/ai/command/stream", auth(limiter.Middleware(handlers.HandleCommandStream(executor, bus, commandTimeout)))).Methods("POST")
	api.HandleFunc("/ai/undo", auth(handlers.HandleUndo(orchestrator, m))).Methods("POST")
	api.HandleFunc("/admin/reindex", auth(handlers.HandleReindex(enqueuer))).Methods("POST")

	router.Use(handlers.CORSMiddleware)
	router.Use(handlers.LoggingMiddleware)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: commandTimeout + 30*time.Second, // streams outlive normal responses
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("taskdeck API listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func loadConfig() *config.Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Fatalf("Failed to load config %s: %v", path, err)
		}
		slog.Info("no config file, using defaults", "path", path)
		cfg = config.Default()
	}
	// Allow overriding the rate limit without a config file edit
	if v := os.Getenv("MAX_COMMANDS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Limits.MaxCommandsPerMinute = n
		}
	}
	return cfg
}
