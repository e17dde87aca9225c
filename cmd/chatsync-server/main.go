// ABOUTME: Entry point for the chatsync gateway server
// ABOUTME: Serves the conversation REST API, realtime endpoint, and metrics

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/storeline/chatsync/internal/config"
	"github.com/storeline/chatsync/internal/gateway"
	"github.com/storeline/chatsync/internal/store"
	"github.com/storeline/chatsync/internal/wire"
)

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chatsync-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the gateway server")
		fmt.Println("  token --user ID --role ROLE Issue a bearer token for testing")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "token":
		err = runToken()
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
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "chatsync.yaml", "path to config file")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting chatsync-server", "version", version, "addr", cfg.Server.HTTPAddr)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := gateway.NewHub(logger)
	defer hub.Close()

	tokens := gateway.NewTokenIssuer(cfg.Auth.JWTSecret)
	gw := gateway.New(st, hub, tokens, logger)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.Router(cfg.Metrics.Enabled),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runToken() error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "chatsync.yaml", "path to config file")
	userID := fs.Int64("user", 0, "user ID the token identifies")
	role := fs.String("role", "customer", "role claim: customer or agent")
	fs.Parse(os.Args[2:])

	if *userID == 0 {
		return fmt.Errorf("--user is required")
	}
	r := wire.Role(strings.ToLower(*role))
	if r != wire.RoleCustomer && r != wire.RoleAgent {
		return fmt.Errorf("--role must be customer or agent")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	token, err := gateway.NewTokenIssuer(cfg.Auth.JWTSecret).Issue(*userID, r)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
