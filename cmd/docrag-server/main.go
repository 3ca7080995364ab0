// Package main provides the HTTP server for docrag.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/docrag/internal/app"
	"github.com/raphaelgruber/docrag/internal/config"
)

const version = "0.1.0"

func main() {
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Dual output: stderr text + file JSON
	logger, closeLog := config.SetupLogger(cfg, "docrag-server")
	defer func() { _ = closeLog() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("docrag-server starting",
		"version", version,
		"port", cfg.ServerPort,
		"store", cfg.StoreBackend,
		"queue", cfg.QueueBackend,
		"embed_provider", cfg.EmbedProvider,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(ctx, cfg, logger, app.Providers{})
	cancel()
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}

	if *wipeDB || os.Getenv("DOCRAG_WIPE_DB") == "true" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := application.WipeData(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(runCtx); err != nil {
		logger.Error("failed to start workers", "error", err)
		os.Exit(1)
	}
	go application.Purger().Run(runCtx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           application.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute, // uploads and LLM answers
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s/api", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-runCtx.Done()
	logger.Info("shutting down server...")

	// Stop taking requests first, then let the workers drain
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	if err := application.Close(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
