// Package main runs a local Exact Online API emulator for development and testing.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/api"
	"github.com/shunichi-ikebuchi/exact-online-connector/emulator/internal/store"
)

const (
	defaultPort     = "8080"
	defaultDBPath   = "./data/exact.db"
	defaultDivision = "1"
)

func main() {
	// Setup structured JSON logging.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Get configuration from environment variables.
	port := getEnvOrDefault("PORT", defaultPort)
	dbPath := getEnvOrDefault("DB_PATH", defaultDBPath)
	division := getEnvOrDefault("DIVISION", defaultDivision)

	pageSize, err := intEnv("PAGE_SIZE", api.DefaultPageSize)
	if err != nil {
		slog.Error("invalid PAGE_SIZE", "error", err)
		os.Exit(1)
	}
	minutelyLimit, err := intEnv("MINUTELY_LIMIT", 60)
	if err != nil {
		slog.Error("invalid MINUTELY_LIMIT", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		slog.Error("failed to create data directory", "error", err, "db_path", dbPath)
		os.Exit(1)
	}

	// Initialize store.
	st, err := store.New(dbPath)
	if err != nil {
		slog.Error("failed to initialize store", "error", err, "db_path", dbPath)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("failed to close store", "error", err)
		}
	}()

	slog.Info("database initialized", "db_path", dbPath)

	if err := api.SeedDivision(st, division, "Emulator division"); err != nil {
		slog.Error("failed to seed division", "error", err)
		os.Exit(1)
	}

	handler := api.NewRouter(st, api.Config{
		Division:      division,
		PageSize:      pageSize,
		MinutelyLimit: minutelyLimit,
		ClientID:      os.Getenv("CLIENT_ID"),
		ClientSecret:  os.Getenv("CLIENT_SECRET"),
		Logging:       true,
	})

	// Start server.
	addr := fmt.Sprintf(":%s", port)
	slog.Info("starting Exact Online API emulator", "addr", addr, "division", division, "page_size", pageSize, "minutely_limit", minutelyLimit)

	server := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		slog.Info("shutting down server")
		if err := server.Close(); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("server stopped")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(value)
}
