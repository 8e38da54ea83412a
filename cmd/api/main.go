package main

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/leozw/linkpulse/internal/api"
	"github.com/leozw/linkpulse/internal/api/handlers"
	"github.com/leozw/linkpulse/internal/config"
	"github.com/leozw/linkpulse/internal/groups"
	"github.com/leozw/linkpulse/internal/inbound"
	"github.com/leozw/linkpulse/internal/links"
	"github.com/leozw/linkpulse/internal/metrics"
	"github.com/leozw/linkpulse/internal/protocol"
	"github.com/leozw/linkpulse/internal/session"
	"github.com/leozw/linkpulse/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	var logger *zap.Logger
	if cfg.Server.Mode == "release" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	files, err := store.NewFiles(cfg.Data.Dir, logger)
	if err != nil {
		logger.Fatal("Failed to open data dir", zap.Error(err))
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	registry := session.NewRegistry()

	forwarder := inbound.NewForwarder(cfg.Ingest.URL, cfg.Ingest.Platform, cfg.Ingest.Timeout, collector, logger)
	router := inbound.NewRouter(files, forwarder, logger)

	dialer := protocol.NewGatewayDialer(cfg.Gateway.URL, cfg.Gateway.HandshakeTimeout, logger)
	placeholder := loadPlaceholder(cfg.Data.PlaceholderPath, logger)
	manager := session.NewManager(registry, files, dialer, router, placeholder, collector, logger)

	engine := links.NewEngine(files, cfg.Links.BaseURL, collector, logger)
	shortener := links.NewShortener(cfg.Links.BitlyURL)
	groupSvc := groups.NewService(registry, cfg.Groups.FetchTimeout, cfg.Groups.MaxRetries, cfg.Groups.BackoffBase, collector, logger)

	handler := handlers.NewHandler(manager, registry, files, engine, groupSvc, shortener, collector, logger, cfg)
	server := api.NewServer(cfg, handler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reconnect tenants recorded as active before the last shutdown.
	go manager.Restore(ctx)

	reaper := session.NewReaper(manager, files, cfg.Reaper.Interval, cfg.Reaper.IdleTimeout, collector, logger)
	go reaper.Start(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("API server started", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	// Let in-flight ingest forwards drain.
	router.Wait()

	logger.Info("Server exited")
}

// loadPlaceholder reads the neutral image written over a consumed
// pairing code. A missing file degrades to a generated blank image
// rather than refusing to start.
func loadPlaceholder(path string, logger *zap.Logger) []byte {
	data, err := os.ReadFile(path)
	if err == nil {
		return data
	}
	logger.Warn("Placeholder image not found, generating a blank one",
		zap.String("path", path),
		zap.Error(err),
	)

	img := image.NewGray(image.Rect(0, 0, 256, 256))
	for i := range img.Pix {
		img.Pix[i] = 0xee
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		logger.Fatal("Failed to encode placeholder image", zap.Error(err))
	}
	return buf.Bytes()
}
