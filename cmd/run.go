package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	bugst "go.bug.st/serial"

	"serial-batch/pkg/app"
	"serial-batch/pkg/batch"
	"serial-batch/pkg/config"
	"serial-batch/pkg/history"
	"serial-batch/pkg/serial"
)

var (
	// Run command flags
	runPort             string
	runBaudRate         int
	runDataBits         int
	runStopBits         int
	runParity           string
	runTimeout          time.Duration
	runProfile          string
	runEOL              string
	runDryRun           bool
	runSkipDelays       bool
	runEcho             bool
	runLinger           time.Duration
	runTranscript       string
	runTranscriptFormat string
)

var errBatchCanceled = errors.New("batch canceled")

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Run a batch script against a serial port",
	Long: `Run a batch script line by line against a serial port.

Serial settings are resolved in order: settings file, then --profile,
then explicit flags.

Examples:
  # Run a script on /dev/ttyUSB0 at 9600 baud
  serial-batch run init.txt -p /dev/ttyUSB0 -b 9600

  # Run using a saved profile, terminating lines with LF
  serial-batch run init.txt --profile modem --eol lf

  # Print what would be sent without opening a port
  serial-batch run init.txt --dry-run --skip-delays`,
	Args:    cobra.ExactArgs(1),
	Aliases: []string{"exec"},
	RunE:    runBatch,
}

func init() {
	runCmd.Flags().StringVarP(&runPort, "port", "p", "", "serial port (e.g. COM3, /dev/ttyUSB0)")
	runCmd.Flags().IntVarP(&runBaudRate, "baud", "b", 115200, "baud rate")
	runCmd.Flags().IntVarP(&runDataBits, "data", "d", 8, "data bits (5, 6, 7, or 8)")
	runCmd.Flags().IntVarP(&runStopBits, "stop", "s", 1, "stop bits (1 or 2)")
	runCmd.Flags().StringVar(&runParity, "parity", "none", "parity (none, odd, even, mark, space)")
	runCmd.Flags().DurationVarP(&runTimeout, "timeout", "t", 100*time.Millisecond, "read timeout")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "saved profile to use")
	runCmd.Flags().StringVar(&runEOL, "eol", "", "line ending appended to each line (none, lf, crlf)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print lines instead of sending them")
	runCmd.Flags().BoolVar(&runSkipDelays, "skip-delays", false, "with --dry-run, do not wait on delays")
	runCmd.Flags().BoolVar(&runEcho, "echo", true, "print received data")
	runCmd.Flags().DurationVar(&runLinger, "linger", 0, "keep reading replies this long after the script ends")
	runCmd.Flags().StringVar(&runTranscript, "transcript", "", "write the session transcript to this file")
	runCmd.Flags().StringVar(&runTranscriptFormat, "transcript-format", "", "transcript format (plain, timestamped, json)")
}

func runBatch(cmd *cobra.Command, args []string) error {
	scriptPath := resolveScriptPath(args[0], settings.ScriptsDir)
	lines, err := batch.LoadScript(scriptPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	appConfig, err := resolveRunConfig(cmd)
	if err != nil {
		return err
	}
	appConfig.Output = out
	appConfig.Logger = logger

	logger.Debug("script loaded", "path", scriptPath, "lines", len(lines))

	if runDryRun {
		report, err := app.RunDryRun(ctx, lines, app.DryRunOptions{
			LineEnding: appConfig.LineEnding,
			SkipDelays: runSkipDelays,
			Output:     out,
		})
		if err != nil {
			return errBatchCanceled
		}
		fmt.Fprintf(out, "\nDry run: %d line(s) sent, %d delay(s), %d skipped\n", report.Sent, report.Delays, report.Skipped)
		return nil
	}

	if err := appConfig.SerialConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	runner := app.NewRunner(appConfig)
	report, err := runner.RunBatch(ctx, lines)
	if err != nil {
		printOpenHints(cmd.ErrOrStderr(), err)
		return err
	}

	if report.Canceled {
		return errBatchCanceled
	}
	return nil
}

// resolveRunConfig layers settings, profile and explicit flags
func resolveRunConfig(cmd *cobra.Command) (app.AppConfig, error) {
	cfg := app.DefaultAppConfig()
	cfg.SerialConfig = settings.Serial
	cfg.RetryConfig = settings.Retry
	cfg.LineEnding = settings.LineEnding
	cfg.EchoReceived = settings.Echo
	cfg.HistorySize = settings.Transcript.MaxSize
	cfg.TranscriptPath = settings.Transcript.Path

	format, err := history.ParseFormat(settings.Transcript.Format)
	if err != nil {
		return cfg, err
	}
	cfg.TranscriptFormat = format

	if runProfile != "" {
		dir, err := resolveConfigDir()
		if err != nil {
			return cfg, err
		}

		profile, err := config.NewFileConfigManager(dir).LoadProfile(runProfile)
		if err != nil {
			return cfg, fmt.Errorf("failed to load profile: %w", err)
		}
		cfg.SerialConfig = profile.Config
		cfg.LineEnding = profile.LineEnding
		logger.Debug("profile loaded", "profile", profile.Name, "port", profile.Config.Port)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.SerialConfig.Port = runPort
	}
	if flags.Changed("baud") {
		cfg.SerialConfig.BaudRate = runBaudRate
	}
	if flags.Changed("data") {
		cfg.SerialConfig.DataBits = runDataBits
	}
	if flags.Changed("stop") {
		cfg.SerialConfig.StopBits = runStopBits
	}
	if flags.Changed("parity") {
		cfg.SerialConfig.Parity = runParity
	}
	if flags.Changed("timeout") {
		cfg.SerialConfig.Timeout = runTimeout
	}
	if flags.Changed("eol") {
		eol, err := serial.ParseLineEnding(runEOL)
		if err != nil {
			return cfg, err
		}
		cfg.LineEnding = eol
	}
	if flags.Changed("echo") {
		cfg.EchoReceived = runEcho
	}
	if flags.Changed("linger") {
		cfg.Linger = runLinger
	}
	if flags.Changed("transcript") {
		cfg.TranscriptPath = runTranscript
	}
	if flags.Changed("transcript-format") {
		format, err := history.ParseFormat(runTranscriptFormat)
		if err != nil {
			return cfg, err
		}
		cfg.TranscriptFormat = format
	}

	return cfg, nil
}

// resolveScriptPath falls back to the scripts directory for relative names
func resolveScriptPath(path, scriptsDir string) string {
	if _, err := os.Stat(path); err == nil || filepath.IsAbs(path) || scriptsDir == "" {
		return path
	}

	candidate := filepath.Join(scriptsDir, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// printOpenHints suggests fixes for common port open failures
func printOpenHints(w io.Writer, err error) {
	var hints []string

	if code, ok := serial.PortErrorCode(err); ok {
		switch code {
		case bugst.PermissionDenied:
			hints = append(hints, permissionHints...)
		case bugst.PortBusy:
			hints = append(hints, busyHints...)
		case bugst.PortNotFound:
			hints = append(hints, notFoundHints...)
		case bugst.InvalidSpeed, bugst.InvalidDataBits, bugst.InvalidParity, bugst.InvalidStopBits:
			hints = append(hints, "  - The device driver rejected the line settings; check baud, data, parity and stop bits")
		}
	} else {
		errStr := strings.ToLower(err.Error())
		if strings.Contains(errStr, "permission") || strings.Contains(errStr, "access") {
			hints = append(hints, permissionHints...)
		}
		if strings.Contains(errStr, "busy") || strings.Contains(errStr, "in use") {
			hints = append(hints, busyHints...)
		}
		if strings.Contains(errStr, "not found") || strings.Contains(errStr, "no such") {
			hints = append(hints, notFoundHints...)
		}
	}

	if len(hints) == 0 {
		return
	}

	fmt.Fprintf(w, "\nPossible solutions:\n")
	for _, h := range hints {
		fmt.Fprintln(w, h)
	}
}

var (
	permissionHints = []string{
		"  - Check if you have permission to access the port",
		"  - On Linux: Add your user to the 'dialout' group: sudo usermod -a -G dialout $USER",
	}
	busyHints = []string{
		"  - The port may be in use by another application",
		"  - Close other terminal programs or serial monitors",
	}
	notFoundHints = []string{
		"  - The specified port does not exist",
		"  - Check the cable and the device name",
	}
)
