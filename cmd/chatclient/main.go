package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/npezzotti/go-chatsync/internal/chatapi"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/live"
	"github.com/npezzotti/go-chatsync/internal/notify"
	"github.com/npezzotti/go-chatsync/internal/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var errReauthenticate = errors.New("token rejected by the server; issue a new one with `chatserver token` and restart")

var (
	flagServerURL        string
	flagToken            string
	flagRoom             string
	flagReconnectInitial time.Duration
	flagReconnectMax     time.Duration
	flagReconnectRetries int
	flagDebug            bool
	flagLogFile          string
)

var rootCmd = &cobra.Command{
	Use:           "chatclient",
	Short:         "Terminal client for a go-chatsync relay",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runClient,
}

func init() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	flags := rootCmd.Flags()
	flags.StringVar(&flagServerURL, "server-url", envOr("CHAT_SERVER_URL", "http://localhost:8000"), "relay base URL (env CHAT_SERVER_URL)")
	flags.StringVar(&flagToken, "token", os.Getenv("CHAT_TOKEN"), "bearer token (env CHAT_TOKEN)")
	flags.StringVar(&flagRoom, "room", "", "room to enter on start")
	flags.DurationVar(&flagReconnectInitial, "reconnect-initial", config.DefaultReconnectInitial, "first reconnect delay")
	flags.DurationVar(&flagReconnectMax, "reconnect-max", config.DefaultReconnectMax, "reconnect delay cap")
	flags.IntVar(&flagReconnectRetries, "reconnect-retries", config.DefaultReconnectRetries, "failed attempts before the outage is reported")
	flags.BoolVar(&flagDebug, "debug", false, "enable debug logging")
	flags.StringVar(&flagLogFile, "log-file", envOr("CHAT_LOG_FILE", filepath.Join(os.TempDir(), "chatclient.log")), "log destination (env CHAT_LOG_FILE)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatclient:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runClient(cmd *cobra.Command, args []string) error {
	level := zerolog.WarnLevel
	if flagDebug {
		level = zerolog.DebugLevel
	}
	// the terminal belongs to the UI, so logs go to a file
	logFile, err := os.OpenFile(flagLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: logFile, NoColor: true, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	cfg, err := config.NewClientConfig(flagServerURL, flagToken)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.ReconnectInitial = flagReconnectInitial
	cfg.ReconnectMax = flagReconnectMax
	cfg.ReconnectRetries = flagReconnectRetries
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	noteCh := make(chan struct{}, 1)
	notes := notify.NewQueue(logger,
		notify.WithTTL(cfg.NotificationTTL),
		notify.WithMaxLen(cfg.MaxNotifications),
		notify.WithListener(signalNotes(noteCh)),
	)
	defer notes.Close()

	api := chatapi.NewClient(cfg.ServerURL.String(), cfg.Token, logger)
	connect := session.ManagerConnector(live.Options{
		URL:   cfg.WebsocketURL(),
		Token: cfg.Token,
		Backoff: live.Backoff{
			Initial:    cfg.ReconnectInitial,
			Max:        cfg.ReconnectMax,
			Multiplier: 2,
			MaxRetries: cfg.ReconnectRetries,
		},
		SendLimit: rate.Limit(cfg.SendRate),
		SendBurst: cfg.SendBurst,
		Notifier:  notes,
		Logger:    logger,
	})

	s := session.New(api, connect, notes, logger)
	defer s.Leave()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flagRoom != "" {
		if err := s.Enter(ctx, flagRoom); err != nil {
			return err
		}
	}

	sh := &shell{session: s, api: api, notes: notes, view: newRenderer()}
	p := tea.NewProgram(newModel(ctx, sh, noteCh),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()),
	)

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := final.(model); ok && m.err != nil {
		return m.err
	}

	return nil
}
