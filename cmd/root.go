package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"serial-batch/pkg/config"
)

var (
	// Root command flags
	verbose      bool
	settingsPath string
	configDir    string
	logFormat    string

	// Resolved in PersistentPreRunE
	settings config.Settings
	logger   = slog.Default()

	// Root command
	rootCmd = &cobra.Command{
		Use:   "serial-batch",
		Short: "Run timed command scripts against a serial port",
		Long: `serial-batch sends a script of commands to a serial device one line at a
time. Besides plain lines a script may contain:

  # text / comment(text)        ignored
  delay(<seconds>)              pause, decimals allowed
  delay_ms(<milliseconds>)      pause
  rand_delay(<min>,<max>)       pause for a random number of milliseconds`,
		Version:           "1.0.0",
		PersistentPreRunE: initConfig,
		RunE:              runRoot,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
)

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "settings file (default <config-dir>/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory for settings and profiles")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
}

// initConfig loads the settings file and builds the logger
func initConfig(cmd *cobra.Command, args []string) error {
	dir, err := resolveConfigDir()
	if err != nil {
		return err
	}

	path := settingsPath
	if path == "" {
		path = config.SettingsPath(dir)
	}

	settings, err = config.LoadSettings(path)
	if err != nil {
		return err
	}

	level := settings.Log.Level
	if verbose {
		level = "debug"
	}
	format := settings.Log.Format
	if logFormat != "" {
		format = logFormat
	}

	logger = newLogger(cmd.ErrOrStderr(), level, format)
	slog.SetDefault(logger)
	logger.Debug("settings loaded", "path", path)
	return nil
}

func resolveConfigDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	return config.DefaultDir()
}

func newLogger(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// runRoot shows help when no subcommand is given
func runRoot(cmd *cobra.Command, args []string) error {
	return cmd.Help()
}
