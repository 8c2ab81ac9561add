package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-chatsync/internal/api"
	"github.com/npezzotti/go-chatsync/internal/auth"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/database"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="

var (
	flagAddr           string
	flagSigningKey     string
	flagAllowedOrigins []string
	flagDebug          bool

	flagUserId   string
	flagUsername string
	flagTokenTTL time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "chatserver",
	Short: "Reference relay for go-chatsync clients",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the room API and live channel",
	RunE:  runServe,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	RunE:  runToken,
}

func init() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&flagSigningKey, "signing-key", envOr("CHAT_SIGNING_KEY", defaultSigningKey), "base64 encoded signing key (env CHAT_SIGNING_KEY)")
	pflags.BoolVar(&flagDebug, "debug", false, "enable debug logging")

	flags := serveCmd.Flags()
	flags.StringVar(&flagAddr, "addr", envOr("CHAT_ADDR", "localhost:8000"), "server address (env CHAT_ADDR)")
	flags.StringSliceVar(&flagAllowedOrigins, "allowed-origins", nil, "comma-separated list of allowed origins for CORS")

	flags = tokenCmd.Flags()
	flags.StringVar(&flagUserId, "user-id", "", "user id")
	flags.StringVar(&flagUsername, "username", "", "display name")
	flags.DurationVar(&flagTokenTTL, "ttl", 24*time.Hour, "token lifetime")
	tokenCmd.MarkFlagRequired("user-id")
	tokenCmd.MarkFlagRequired("username")

	rootCmd.AddCommand(serveCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if flagDebug {
		level = zerolog.DebugLevel
	}

	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "chatserver").Logger()
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.NewServerConfig(flagAddr, flagSigningKey, flagAllowedOrigins)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	db := database.NewMemoryRepository()

	collector := stats.NewCollector(logger)
	collector.Run()
	defer collector.Stop()

	chatServer := server.NewChatServer(logger, db, collector)
	go chatServer.Run()

	srv := api.NewServer(logger, chatServer, db, collector, cfg)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("listening")
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Info().Str("signal", sig.String()).Msg("received signal")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server")
		}
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info().Msg("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		return fmt.Errorf("chat server shutdown: %w", err)
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewServerConfig("unused", flagSigningKey, nil)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	token, err := auth.NewToken(cfg.SigningKey, types.User{Id: flagUserId, Username: flagUsername}, flagTokenTTL)
	if err != nil {
		return fmt.Errorf("new token: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
