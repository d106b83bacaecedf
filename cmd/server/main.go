// Package main is the entry point for the nutrition tracker server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
// 1. Read configuration (from env vars, optionally seeded by a .env file)
// 2. Create the logger
// 3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sakif/nutrition-tracker/internal/auth"
	"github.com/sakif/nutrition-tracker/internal/server"
	"github.com/sakif/nutrition-tracker/internal/storage"
)

// devSecret is only for local runs. The server warns loudly when it is used.
const devSecret = "dev-only-secret-change-me-please"

func main() {
	// === 1. LOAD .env ===
	// Values already in the environment win over the file, so a deployment can
	// override anything. A missing .env is normal.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not read .env", slog.String("error", err.Error()))
	}

	// === 2. SET UP LOGGING ===
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}))

	cfg, err := loadConfig(logger)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// loadConfig reads every setting from the environment.
func loadConfig(logger *slog.Logger) (server.Config, error) {
	var cfg server.Config

	port, err := envInt("PORT", 8080)
	if err != nil {
		return cfg, err
	}
	cfg.Port = port

	// === STORAGE ===
	// The backend is chosen once here and fixed for the life of the process.
	backend, err := storage.ParseBackend(os.Getenv("STORAGE_BACKEND"))
	if err != nil {
		return cfg, err
	}
	cfg.Storage.Backend = backend

	switch backend {
	case storage.Postgres:
		cfg.Storage.DSN = os.Getenv("DATABASE_URL")
		if cfg.Storage.DSN == "" {
			return cfg, errors.New("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		dbPath := envString("DB_PATH", "data/nutrition.db")
		// Ensure the data directory exists (like `mkdir -p`).
		if dbPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return cfg, err
			}
		}
		cfg.Storage.DSN = dbPath
	}

	// === SESSIONS ===
	// JWT_SECRET must be a long random string. Use:
	//   JWT_SECRET=$(openssl rand -hex 32)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, using an insecure development secret")
		cfg.JWTSecret = devSecret
	}

	cfg.SessionTTL = auth.DefaultSessionTTL
	if raw := os.Getenv("SESSION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return cfg, errors.New("SESSION_TTL must be a positive duration like 168h")
		}
		cfg.SessionTTL = ttl
	}

	if raw := os.Getenv("COOKIE_SECURE"); raw != "" {
		secure, err := strconv.ParseBool(raw)
		if err != nil {
			return cfg, errors.New("COOKIE_SECURE must be true or false")
		}
		cfg.CookieSecure = secure
	}

	// === RATE LIMITING ===
	rate := 1.0
	if raw := os.Getenv("LOGIN_RATE_PER_SEC"); raw != "" {
		rate, err = strconv.ParseFloat(raw, 64)
		if err != nil || rate <= 0 {
			return cfg, errors.New("LOGIN_RATE_PER_SEC must be a positive number")
		}
	}
	cfg.LoginRatePerSec = rate

	burst, err := envInt("LOGIN_BURST", 5)
	if err != nil {
		return cfg, err
	}
	cfg.LoginBurst = burst

	return cfg, nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw) // Atoi = ASCII to Integer
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
