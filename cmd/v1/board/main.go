// CollabBoard server entrypoint: loads configuration, wires the room
// registry and WebSocket acceptor into the HTTP router, and runs until a
// shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/collabboard/collabboard/backend/go/internal/v1/config"
	"github.com/collabboard/collabboard/backend/go/internal/v1/health"
	"github.com/collabboard/collabboard/backend/go/internal/v1/logging"
	"github.com/collabboard/collabboard/backend/go/internal/v1/middleware"
	"github.com/collabboard/collabboard/backend/go/internal/v1/ratelimit"
	"github.com/collabboard/collabboard/backend/go/internal/v1/room"
	"github.com/collabboard/collabboard/backend/go/internal/v1/transport"
)

func usage() {
	fmt.Printf("Usage: %s [port]\n\n", os.Args[0])
	fmt.Println("Starts the CollabBoard server. The optional port argument overrides")
	fmt.Println("the PORT environment variable (default 8080).")
}

// cliPort parses the optional port argument. It exits directly on -h/--help
// and on a malformed port, before any other bootstrap runs.
func cliPort() string {
	if len(os.Args) < 2 {
		return ""
	}
	arg := os.Args[1]
	if arg == "-h" || arg == "--help" {
		usage()
		os.Exit(0)
	}
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		fmt.Fprintf(os.Stderr, "Invalid port: %s\n\n", arg)
		usage()
		os.Exit(1)
	}
	return arg
}

func main() {
	portArg := cliPort()

	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}
	if portArg != "" {
		cfg.Port = portArg
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	if cfg.DevelopmentMode {
		logging.Info(ctx, "Running in DEVELOPMENT MODE")
	}

	// --- Room Registry ---
	// One registry owns every room for the process lifetime; sessions reach
	// it through the acceptor.
	registry := room.NewRegistry(cfg.RoomGracePeriod)

	// --- Per-IP Connect Limiter ---
	// Development mode runs without the connect gate so local tooling can
	// hammer the server freely.
	var connectLimiter *ratelimit.ConnectLimiter
	if !cfg.DevelopmentMode {
		connectLimiter, err = ratelimit.NewConnectLimiter(cfg)
		if err != nil {
			logging.Fatal(ctx, "Failed to build WS connect limiter", zap.Error(err))
		}
	} else {
		logging.Warn(ctx, "Per-IP connect limiter DISABLED for development")
	}

	acceptor := transport.NewAcceptor(registry, connectLimiter, cfg.Origins())

	// --- Set up Server ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	// Cors
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Origins()
	router.Use(cors.New(corsConfig))

	// Health check endpoints
	healthHandler := health.NewHandler(registry, acceptor)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Everything else is a WebSocket upgrade attempt.
	router.GET("/ws", acceptor.ServeWS)
	router.NoRoute(acceptor.ServeWS)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logging.Info(ctx, "CollabBoard server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	// Stop accepting upgrades and disconnect the live sessions; their close
	// paths release room memberships.
	if err := acceptor.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Error during acceptor shutdown", zap.Error(err))
	}

	// Stop the registry janitor and close any remaining rooms.
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Error during registry shutdown", zap.Error(err))
	}

	// Shutdown HTTP server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "Server exiting")
}
