// ABOUTME: Entry point for the opengallery persistence server
// ABOUTME: Subcommands: serve, migrate, rollback, version

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/liniyuanaws/OpenGallery/internal/auth"
	"github.com/liniyuanaws/OpenGallery/internal/config"
	"github.com/liniyuanaws/OpenGallery/internal/registry"
	"github.com/liniyuanaws/OpenGallery/internal/store"
	"github.com/liniyuanaws/OpenGallery/internal/tenant"
	"github.com/liniyuanaws/OpenGallery/internal/user"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   ___  _ __   ___ _ __   __ _  __ _| | | ___ _ __ _   _
  / _ \| '_ \ / _ \ '_ \ / _' |/ _' | | |/ _ \ '__| | | |
 | (_) | |_) |  __/ | | | (_| | (_| | | |  __/ |  | |_| |
  \___/| .__/ \___|_| |_|\__, |\__,_|_|_|\___|_|   \__, |
       |_|               |___/                     |___/
`

// getConfigPath returns the path to the config file.
// Priority: OPENGALLERY_CONFIG env var > ./opengallery.toml
func getConfigPath() string {
	if envPath := os.Getenv("OPENGALLERY_CONFIG"); envPath != "" {
		return envPath
	}
	return "opengallery.toml"
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: opengallery <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the persistence server")
		fmt.Println("  migrate              Apply pending schema migrations")
		fmt.Println("  rollback --to N      Roll the schema back to version N")
		fmt.Println("  version              Print version and schema information")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "migrate":
		err = runMigrate(ctx)
	case "rollback":
		err = runRollback(ctx)
	case "version":
		err = runVersion(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backend:  %s\n", cfg.Database.Backend)
	if cfg.Server.DevelopmentMode {
		color.New(color.FgYellow).Print("    ▶ ")
		fmt.Println("Mode:     development")
	}
	fmt.Println()

	logger.Info("starting opengallery",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backend", cfg.Database.Backend,
	)

	db, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	accounts := user.NewService(db, issuer)
	if err := accounts.EnsureDefaultUsers(ctx, defaultAccounts()); err != nil {
		return fmt.Errorf("bootstrapping default users: %w", err)
	}

	svc := tenant.NewService(db)
	reg := registry.NewRegistry(logger)

	middleware := auth.NewMiddleware(issuer, cfg.Server.DevelopmentMode)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": version})
	})
	mux.Handle("/api/me", middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"user_id":  id.UserID,
			"username": id.Username,
			"provider": id.Provider,
		})
	})))
	mux.Handle("/api/canvases", middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		canvases, err := svc.ListCanvases(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(canvases)
	})))
	mux.Handle("/api/presence", middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"online":      reg.OnlineUsers(),
			"connections": reg.ConnectionCount(id.UserID),
		})
	})))

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStore builds the configured backend. The SQLite constructor migrates
// to the current schema; serving never begins against an unknown schema.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Backend {
	case "sqlite":
		return store.NewSQLiteStore(ctx, cfg.Database.SQLite.Path)
	case "dynamodb":
		return store.NewDynamoStore(ctx, dynamoConfig(cfg))
	case "unified":
		primary, err := store.NewDynamoStore(ctx, dynamoConfig(cfg))
		if err != nil {
			return nil, err
		}
		secondary, err := store.NewSQLiteStore(ctx, cfg.Database.SQLite.Path)
		if err != nil {
			primary.Close()
			return nil, err
		}
		return store.NewUnifiedStore(primary, secondary), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Database.Backend)
	}
}

func dynamoConfig(cfg *config.Config) store.DynamoConfig {
	return store.DynamoConfig{
		Region:      cfg.Database.DynamoDB.Region,
		TablePrefix: cfg.Database.DynamoDB.TablePrefix,
		Endpoint:    cfg.Database.DynamoDB.Endpoint,
	}
}

func defaultAccounts() []user.DefaultAccount {
	return []user.DefaultAccount{
		{Username: "admin", Email: "admin@localhost", Password: "admin123"},
		{Username: "demo", Email: "demo@localhost", Password: "demo123"},
	}
}

func runMigrate(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(setupLogger(cfg.Logging))

	// NewSQLiteStore migrates to the current version as part of opening.
	s, err := store.NewSQLiteStore(ctx, cfg.Database.SQLite.Path)
	if err != nil {
		return fmt.Errorf("migrating: %w", err)
	}
	defer s.Close()

	v, err := s.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("schema at version %d\n", v)
	return nil
}

func runRollback(ctx context.Context) error {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	target := fs.Int("to", -1, "target schema version")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return err
	}
	if *target < 0 {
		return fmt.Errorf("rollback requires --to N")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(setupLogger(cfg.Logging))

	s, err := store.NewSQLiteStore(ctx, cfg.Database.SQLite.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	current, err := s.GetSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if *target >= current {
		fmt.Printf("schema already at version %d, nothing to roll back\n", current)
		return nil
	}

	if err := store.Rollback(ctx, s.DB(), store.SQLiteMigrations(), current, *target); err != nil {
		return fmt.Errorf("rolling back: %w", err)
	}
	fmt.Printf("schema rolled back from %d to %d\n", current, *target)
	return nil
}

func runVersion(ctx context.Context) error {
	fmt.Printf("opengallery %s (schema %s)\n", version, strconv.Itoa(store.SchemaVersionCurrent))
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
