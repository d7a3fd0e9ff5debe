package app

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-circulation/internal/config"
	"library-circulation/library"
)

var appVersion = "dev"

// SetVersion is called from main with the build version.
func SetVersion(v string) { appVersion = v }

// runtime is what every subcommand shares once the root pre-run has loaded
// the configuration.
type runtime struct {
	flagConfig  string
	flagDB      string
	flagNoColor bool

	cfg *config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}

	root := &cobra.Command{
		Use:   "librarydesk",
		Short: "Circulation desk for a school library",
		Long: `librarydesk tracks the books, members and loans of a school library.

Run 'librarydesk serve' for the REST API, or use the subcommands directly
against the same SQLite database from the desk.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&rt.flagConfig, "config", "", "Config file path (default: $LIBRARY_CONFIG or ./library.yaml)")
	root.PersistentFlags().StringVar(&rt.flagDB, "db", "", "SQLite database path (overrides database.path)")
	root.PersistentFlags().BoolVar(&rt.flagNoColor, "no-color", false, "Disable colored output")

	root.AddCommand(
		newServeCmd(rt),
		newBooksCmd(rt),
		newMembersCmd(rt),
		newCheckoutCmd(rt),
		newReturnCmd(rt),
		newLoansCmd(rt),
		newRestockCmd(rt),
		newStatsCmd(rt),
		newImportCmd(rt),
		newVersionCmd(),
	)
	return root
}

// Execute is the entry point called from main.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func (rt *runtime) load(cmd *cobra.Command) error {
	initColor(rt.flagNoColor)
	if cmd.Name() == "version" {
		return nil
	}

	if err := config.LoadEnv(); err != nil {
		return err
	}
	cfg, err := config.Load(rt.flagConfig)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if rt.flagDB != "" {
		cfg.Database.Path = rt.flagDB
	}
	rt.cfg = cfg
	rt.log = newLogger(cmd.ErrOrStderr(), cfg.Log)
	return nil
}

// openManager opens the library with the circulation settings from config.
func (rt *runtime) openManager() (*library.LibraryManager, error) {
	c := rt.cfg
	return library.NewLibraryManager(c.Database.Path,
		library.WithLoanPeriod(c.Circulation.LoanPeriodDays),
		library.WithRetry(c.Circulation.MaxAttempts, c.Circulation.RetryBaseDelay),
		library.WithBusyTimeout(c.Database.BusyTimeout()),
		library.WithLogger(rt.log),
	)
}

func newLogger(w io.Writer, c config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// initColor configures color output based on flags and terminal detection.
func initColor(noColor bool) {
	if noColor || !isTTY() {
		color.NoColor = true
	}
}

// ok prints a green success line.
func ok(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.GreenString("✓"), fmt.Sprintf(format, a...))
}

// warn prints a yellow warning line.
func warn(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.YellowString("!"), fmt.Sprintf(format, a...))
}

// failed prints a red failure line without exiting.
func failed(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.RedString("✗"), fmt.Sprintf(format, a...))
}

// header prints a cyan section heading.
func header(w io.Writer, format string, a ...any) {
	fmt.Fprintln(w, color.CyanString(fmt.Sprintf(format, a...)))
}
