package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/guttosm/tickshard/config"
	"github.com/guttosm/tickshard/internal/app"
	"github.com/guttosm/tickshard/internal/ingestion"
	"github.com/guttosm/tickshard/internal/logger"
	"github.com/guttosm/tickshard/internal/simulate"
)

// startServer initializes and starts the HTTP server in a separate goroutine.
//
// Parameters:
//   - router (http.Handler): The HTTP router (Gin Engine) configured with all routes.
//   - port (string): The port where the server will listen for incoming requests.
//
// Returns:
//   - *http.Server: The initialized HTTP server instance.
func startServer(router http.Handler, port string) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.L().Info().Str("port", port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal().Err(err).Msg("server failed to start")
		}
	}()

	return server
}

// gracefulShutdown gracefully terminates the HTTP server and cleans up
// resources when an OS interrupt signal (SIGINT, SIGTERM) is received.
// Cleanup flushes every aggregator before the process exits, so partial
// candles accumulated in memory reach the aggregate store.
func gracefulShutdown(ctx context.Context, server *http.Server, cleanup func()) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	logger.L().Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.L().Fatal().Err(err).Msg("server forced to shutdown")
	}

	cleanup()
	logger.L().Info().Msg("server exited gracefully")
}

// runReplay feeds a directory of NDJSON files through a fresh cluster. The
// cluster cleanup runs before this returns, so even a failed replay
// flushes the aggregators and closes the database.
func runReplay(ctx context.Context, dir string, parallel int) error {
	logger.L().Info().Str("dir", dir).Msg("running feed replay")

	c, cleanup, err := app.InitializeCluster(config.AppConfig)
	if err != nil {
		return fmt.Errorf("cluster init: %w", err)
	}
	defer cleanup()

	stats, err := ingestion.ReplayDirectory(ctx, dir, c, parallel)
	if err != nil {
		return err
	}
	logger.L().Info().
		Int64("accepted", stats.Accepted).
		Int64("duplicates", stats.Duplicates).
		Int64("rejected", stats.Rejected).
		Msg("replay completed successfully")
	return nil
}

// main is the entry point of the tickshard application.
//
// Modes (selected via --mode flag):
//   - serve:    Starts the cluster and the REST API.
//   - replay:   Replays *.ndjson feed files from a directory into the cluster.
//   - generate: Writes simulated feed records to stdout as NDJSON.
//
// Flags:
//   - --mode:     Execution mode ("serve", "replay", or "generate"). Default: "serve".
//   - --dir:      Directory with *.ndjson files for replay mode. Default: "./data/input".
//   - --parallel: Concurrent files in replay mode (0=auto up to CPU).
//   - --symbols:  Comma-separated symbols for generate mode.
//   - --count:    Records to emit in generate mode. Default: 10000.
//   - --seed:     RNG seed for generate mode (fixed seed = reproducible feed).
//   - --port:     Port for serve mode. Defaults to value from config (SERVER_PORT).
func main() {
	ctx := context.Background()

	// Load configuration from environment or .env file
	config.LoadConfig()

	// Initialize JSON logger
	logger.Init()

	mode := flag.String("mode", "serve", "Mode: serve, replay, or generate")
	dir := flag.String("dir", "./data/input", "Directory with *.ndjson feed files (replay mode)")
	parallel := flag.Int("parallel", 0, "Concurrent files in replay mode (0=auto up to CPU)")
	symbols := flag.String("symbols", "BTC/USD,ETH/USD,SOL/USD,DOGE/USD", "Symbols for generate mode")
	count := flag.Int("count", 10000, "Records to emit in generate mode")
	seed := flag.Int64("seed", time.Now().UnixNano(), "RNG seed for generate mode")
	port := flag.String("port", config.AppConfig.Server.Port, "Port for serve mode")
	flag.Parse()

	switch *mode {
	case "serve":
		logger.L().Info().Msg("starting API server")

		router, cleanup, err := app.InitializeApp()
		if err != nil {
			logger.L().Fatal().Err(err).Msg("app init error")
		}

		server := startServer(router, *port)
		gracefulShutdown(ctx, server, cleanup)

	case "replay":
		// Fatal exits skip deferred cleanup, so the replay runs in a helper
		// that tears the cluster down before returning.
		if err := runReplay(ctx, *dir, *parallel); err != nil {
			logger.L().Fatal().Err(err).Msg("replay failed")
		}

	case "generate":
		syms := strings.Split(*symbols, ",")
		for i := range syms {
			syms[i] = strings.TrimSpace(syms[i])
		}
		gen := simulate.New(syms, *seed)
		if err := gen.WriteNDJSON(os.Stdout, *count); err != nil {
			logger.L().Fatal().Err(err).Msg("generate failed")
		}

	default:
		logger.L().Fatal().Str("mode", *mode).Msg("unknown mode")
	}
}
