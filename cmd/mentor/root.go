package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"career-compass/internal/bootstrap"
	"career-compass/internal/config"
	"career-compass/internal/logger"
)

const rootLongDesc string = `mentor is a terminal client for the career mentor.

It keeps the same session state as the web front end: chat transcripts and
quiz progress are stored per user and survive restarts.

Examples:
  mentor chat --user u1
  mentor quiz --user u1 --stream science
  mentor chat --user u1 --store dynamodb`

var (
	userPrompt   = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true).Render("you> ")
	mentorPrompt = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render("mentor> ")
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "mentor",
		Short:        "Career mentor chat and quiz in the terminal",
		Long:         rootLongDesc,
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env is normal outside local development.
			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "warning: reading .env: %v\n", err)
			}
		},
	}

	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("store", config.BackendSQLite, "Session store backend (sqlite or dynamodb)")
	cmd.PersistentFlags().String("sqlite-path", "", "SQLite database file (defaults to SQLITE_PATH or ./data/mentor.db)")
	cmd.PersistentFlags().String("mentor-url", "", "Mentor service base URL (defaults to MENTOR_BASE_URL)")
	cmd.PersistentFlags().String("log-file", "", "Also write JSON logs to this file")
	cmd.PersistentFlags().StringP("user", "u", "", "User ID the session belongs to")

	cmd.AddCommand(newChatCmd())
	cmd.AddCommand(newQuizCmd())
	return cmd
}

// cliSession bundles what a subcommand needs and how to release it.
type cliSession struct {
	app    *bootstrap.App
	log    *slog.Logger
	userID string
	closer func()
}

func (s *cliSession) Close() {
	if s.closer != nil {
		s.closer()
	}
}

// openSession resolves configuration from the environment and flags, then
// builds the engine. Logs go to stderr so they never mix with the REPL.
func openSession(ctx context.Context, cmd *cobra.Command) (*cliSession, error) {
	flags := cmd.Flags()
	userID, _ := flags.GetString("user")
	if userID == "" {
		return nil, errors.New("--user is required")
	}

	cfg := config.FromEnv()
	if flags.Changed("store") || os.Getenv("STORE_BACKEND") == "" {
		cfg.StoreBackend, _ = flags.GetString("store")
	}
	if v, _ := flags.GetString("sqlite-path"); v != "" {
		cfg.SQLitePath = v
	}
	if v, _ := flags.GetString("mentor-url"); v != "" {
		cfg.MentorBaseURL = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	debug, _ := flags.GetBool("debug")
	level := levelOptions(cfg.LogLevel, debug)
	log := logger.New(append([]logger.Option{logger.WithWriter(os.Stderr), logger.WithPretty(true)}, level...)...)
	var closeLog func() error
	if path, _ := flags.GetString("log-file"); path != "" {
		f, err := openLogFile(path)
		if err != nil {
			return nil, err
		}
		closeLog = f.Close
		fileLog := logger.New(append([]logger.Option{logger.WithWriter(f), logger.WithJSON(true), logger.WithSource(true)}, level...)...)
		log = logger.Multi(log, fileLog)
	}

	app, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		if closeLog != nil {
			_ = closeLog()
		}
		return nil, err
	}
	return &cliSession{
		app:    app,
		log:    log,
		userID: userID,
		closer: func() {
			_ = app.Close()
			if closeLog != nil {
				_ = closeLog()
			}
		},
	}, nil
}

// levelOptions applies LOG_LEVEL; --debug overrides it for every sink.
func levelOptions(name string, debug bool) []logger.Option {
	opts := []logger.Option{logger.WithLevel(name)}
	if debug {
		opts = append(opts, logger.WithDebug(true))
	}
	return opts
}

func openLogFile(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func printWarnings(w io.Writer, warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintln(w, warnStyle.Render("  ! "+warning))
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintln(w, errStyle.Render("  x "+err.Error()))
}
