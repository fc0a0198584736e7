package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"serial-batch/pkg/batch"
	"serial-batch/pkg/serial"
)

// Runner runs one batch script against a port and reports the outcome
type Runner struct {
	app    *Application
	config AppConfig
	out    io.Writer

	newApp  func(AppConfig) (*Application, error)
	signals []os.Signal
}

// NewRunner creates a new application runner
func NewRunner(config AppConfig) *Runner {
	out := config.Output
	if out == nil {
		out = os.Stdout
		config.Output = out
	}

	return &Runner{
		config:  config,
		out:     out,
		newApp:  NewApplication,
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
}

// RunBatch opens the port, executes lines and blocks until the script
// finishes or an interrupt cancels it. The port is closed before returning.
func (r *Runner) RunBatch(ctx context.Context, lines []string) (batch.Report, error) {
	app, err := r.newApp(r.config)
	if err != nil {
		return batch.Report{}, fmt.Errorf("failed to create application: %w", err)
	}
	r.app = app

	ctx, stop := signal.NotifyContext(ctx, r.signals...)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return batch.Report{}, fmt.Errorf("failed to start application: %w", err)
	}

	r.printSessionHeader(len(lines))

	reports, err := app.RunScript(lines)
	if err != nil {
		app.Stop()
		return batch.Report{}, err
	}

	var report batch.Report
	select {
	case report = <-reports:
	case <-ctx.Done():
		fmt.Fprintln(r.out, "\nReceived interrupt signal, canceling batch...")
		app.Cancel()
		report = <-reports
	}

	if !report.Canceled && r.config.Linger > 0 {
		select {
		case <-time.After(r.config.Linger):
		case <-ctx.Done():
		}
	}

	stopErr := app.Stop()
	r.printSessionSummary(report)

	if stopErr != nil {
		return report, fmt.Errorf("failed to stop application: %w", stopErr)
	}
	return report, nil
}

func (r *Runner) printSessionHeader(lines int) {
	cfg := r.config.SerialConfig
	session := r.app.GetSession()

	fmt.Fprintf(r.out, "\n=== Serial Batch Session Started ===\n")
	if session != nil {
		fmt.Fprintf(r.out, "Session: %s\n", session.ID)
	}
	fmt.Fprintf(r.out, "Port: %s\n", cfg.Port)
	fmt.Fprintf(r.out, "Settings: %s\n", cfg.Summary())
	fmt.Fprintf(r.out, "Line ending: %s\n", r.config.LineEnding)
	fmt.Fprintf(r.out, "Script: %d line(s)\n", lines)
	fmt.Fprintf(r.out, "Press Ctrl+C to cancel\n")
	fmt.Fprintf(r.out, "====================================\n\n")
}

// printSessionSummary prints a summary of the session
func (r *Runner) printSessionSummary(report batch.Report) {
	if r.app == nil {
		return
	}

	bytesSent, bytesRecv, duration := r.app.GetStats()

	status := "completed"
	if report.Canceled {
		status = "canceled"
	}

	fmt.Fprintf(r.out, "\n=== Session Summary ===\n")
	fmt.Fprintf(r.out, "Batch: %s\n", status)
	fmt.Fprintf(r.out, "Lines Sent: %d\n", report.Sent)
	fmt.Fprintf(r.out, "Delays: %d\n", report.Delays)
	fmt.Fprintf(r.out, "Skipped: %d\n", report.Skipped)
	fmt.Fprintf(r.out, "Duration: %v\n", duration.Round(time.Millisecond))
	fmt.Fprintf(r.out, "Bytes Sent: %d\n", bytesSent)
	fmt.Fprintf(r.out, "Bytes Received: %d\n", bytesRecv)
	if r.config.TranscriptPath != "" {
		fmt.Fprintf(r.out, "Transcript: %s\n", r.config.TranscriptPath)
	}
	fmt.Fprintf(r.out, "=====================\n")
}

// Stop stops the running application
func (r *Runner) Stop() error {
	if r.app != nil {
		return r.app.Stop()
	}
	return nil
}

// DryRunOptions controls RunDryRun
type DryRunOptions struct {
	LineEnding serial.LineEnding
	// SkipDelays continues past delay directives without waiting
	SkipDelays bool
	Output     io.Writer
	Scheduler  batch.Scheduler
}

// immediateScheduler fires every continuation on a fresh goroutine at once
type immediateScheduler struct{}

func (immediateScheduler) AfterFunc(d time.Duration, f func()) batch.Timer {
	return time.AfterFunc(0, f)
}

// RunDryRun executes lines without a port, printing what would be sent
func RunDryRun(ctx context.Context, lines []string, opts DryRunOptions) (batch.Report, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	sched := opts.Scheduler
	if sched == nil {
		sched = batch.DefaultScheduler
		if opts.SkipDelays {
			sched = immediateScheduler{}
		}
	}

	lw := serial.NewLineWriter(out, serial.EndingLF)
	seq := batch.New(
		func(line string) {
			lw.WriteLine(fmt.Sprintf("TX: %q", line+opts.LineEnding.Suffix()))
		},
		batch.WithLogFunc(func(msg string) { io.WriteString(out, msg) }),
		batch.WithScheduler(sched),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan batch.Report, 1)
	seq.StartNotify(lines, func(r batch.Report) { done <- r })

	select {
	case report := <-done:
		return report, nil
	case <-ctx.Done():
		seq.Cancel()
		return <-done, ctx.Err()
	}
}
