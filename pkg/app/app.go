// Package app wires the serial port, batch sequencer and transcript into a session
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"serial-batch/pkg/batch"
	"serial-batch/pkg/history"
	"serial-batch/pkg/serial"
)

const maxConsecutiveReadErrors = 10

// ErrNotRunning is returned when a script is submitted to a stopped session
var ErrNotRunning = errors.New("application is not running")

// AppConfig contains application configuration
type AppConfig struct {
	SerialConfig serial.SerialConfig
	RetryConfig  serial.RetryConfig
	LineEnding   serial.LineEnding

	// EchoReceived copies received bytes to Output
	EchoReceived bool
	// Linger keeps the port open after a script ends to collect replies
	Linger time.Duration

	HistorySize      int
	TranscriptPath   string
	TranscriptFormat history.Format

	Output    io.Writer
	Logger    *slog.Logger
	Scheduler batch.Scheduler
}

// DefaultAppConfig returns default application configuration
func DefaultAppConfig() AppConfig {
	return AppConfig{
		SerialConfig:     serial.DefaultConfig(),
		RetryConfig:      serial.DefaultRetryConfig(),
		LineEnding:       serial.EndingCRLF,
		EchoReceived:     true,
		HistorySize:      history.DefaultMaxSize,
		TranscriptFormat: history.FormatTimestamped,
		Output:           os.Stdout,
	}
}

// Session represents an active batch session on one port
type Session struct {
	ID        string
	Name      string
	Config    serial.SerialConfig
	StartTime time.Time
	EndTime   *time.Time
	BytesSent int64
	BytesRecv int64
	IsActive  bool
	mu        sync.RWMutex
}

// NewSession creates a new session
func NewSession(name string, config serial.SerialConfig) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Config:    config,
		StartTime: time.Now(),
		IsActive:  true,
	}
}

// End marks the session as ended
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.IsActive {
		return
	}
	now := time.Now()
	s.EndTime = &now
	s.IsActive = false
}

// UpdateStats updates session statistics
func (s *Session) UpdateStats(bytesSent, bytesRecv int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BytesSent += bytesSent
	s.BytesRecv += bytesRecv
}

// GetStats returns session statistics
func (s *Session) GetStats() (bytesSent, bytesRecv int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.BytesSent, s.BytesRecv
}

// Duration returns how long the session ran, or has been running
func (s *Session) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// Application represents the batch session controller
type Application struct {
	serialPort *serial.ResilientSerialPort
	lineWriter *serial.LineWriter
	sequencer  *batch.Sequencer
	recorder   *history.Recorder
	logger     *slog.Logger

	session *Session

	outMu sync.Mutex
	out   io.Writer

	cancel context.CancelFunc
	group  *errgroup.Group
	mu     sync.RWMutex

	isRunning bool

	config AppConfig
}

// NewApplication creates an application on the platform serial port
func NewApplication(config AppConfig) (*Application, error) {
	return NewApplicationWithPort(config, serial.NewSerialPort())
}

// NewApplicationWithPort creates an application that talks through port
func NewApplicationWithPort(config AppConfig, port serial.SerialPort) (*Application, error) {
	if err := config.SerialConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid serial config: %w", err)
	}

	if err := config.RetryConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}

	if config.Output == nil {
		config.Output = io.Discard
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &Application{
		config:   config,
		out:      config.Output,
		logger:   logger,
		recorder: history.NewRecorder(config.HistorySize),
	}

	app.serialPort = serial.NewResilientSerialPort(port, config.RetryConfig)
	app.lineWriter = serial.NewLineWriter(app.serialPort, config.LineEnding)

	opts := []batch.Option{
		batch.WithLogFunc(app.logProgress),
		batch.WithLogger(logger),
	}
	if config.Scheduler != nil {
		opts = append(opts, batch.WithScheduler(config.Scheduler))
	}
	app.sequencer = batch.New(app.sendLine, opts...)

	return app, nil
}

// Start opens the serial port, retrying recoverable failures, and starts
// receiving. The session ends when ctx is canceled or Stop is called.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.isRunning {
		return fmt.Errorf("application is already running")
	}

	cfg := app.config.SerialConfig
	if err := app.serialPort.OpenWithRetry(ctx, cfg); err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}

	// Discard anything the device sent before the session began
	if err := app.serialPort.ResetBuffers(); err != nil {
		app.logger.Warn("reset serial buffers", "port", cfg.Port, "err", err)
	}

	app.session = NewSession(fmt.Sprintf("%s_%d", cfg.Port, cfg.BaudRate), cfg)
	app.recorder.Clear()

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	session := app.session
	group.Go(func() error {
		return app.handleSerialInput(groupCtx, session)
	})

	app.cancel = cancel
	app.group = group
	app.isRunning = true

	app.logger.Info("session started", "session", session.ID, "port", cfg.Port, "settings", cfg.Summary())
	return nil
}

// Stop cancels any batch in flight, closes the port and ends the session.
// When a transcript path is configured the transcript is written out.
func (app *Application) Stop() error {
	app.mu.Lock()
	if !app.isRunning {
		app.mu.Unlock()
		return nil
	}
	app.isRunning = false
	cancel, group, session := app.cancel, app.group, app.session
	app.mu.Unlock()

	app.sequencer.Cancel()
	cancel()

	// Closing the port unblocks a pending Read
	var closeErr error
	if app.serialPort.IsOpen() {
		if err := app.serialPort.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close serial port: %w", err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	var readErr error
	select {
	case readErr = <-done:
	case <-time.After(2 * time.Second):
		app.logger.Warn("receive loop did not stop in time", "session", session.ID)
	}

	session.End()
	app.logger.Info("session ended", "session", session.ID, "duration", session.Duration())

	var saveErr error
	if app.config.TranscriptPath != "" {
		saveErr = app.SaveTranscript(app.config.TranscriptPath, app.config.TranscriptFormat)
	}

	return errors.Join(readErr, closeErr, saveErr)
}

// RunScript starts executing lines on the open port. The returned channel
// receives the run's report once, when the run ends or is canceled, and is
// then closed. A script submitted while another runs replaces it.
func (app *Application) RunScript(lines []string) (<-chan batch.Report, error) {
	if !app.IsRunning() {
		return nil, ErrNotRunning
	}

	ch := make(chan batch.Report, 1)
	run := app.sequencer.StartNotify(lines, func(r batch.Report) {
		ch <- r
		close(ch)
	})

	app.logger.Debug("script submitted", "run", run, "lines", len(lines))
	return ch, nil
}

// Cancel aborts the running script, if any
func (app *Application) Cancel() bool {
	return app.sequencer.Cancel()
}

// handleSerialInput reads from the port into the transcript until ctx ends
func (app *Application) handleSerialInput(ctx context.Context, session *Session) error {
	buffer := make([]byte, 4096)
	failures := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := app.serialPort.Read(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, serial.ErrPortClosed) {
				return nil
			}

			failures++
			app.logger.Warn("serial read failed", "err", err, "failures", failures)
			if failures >= maxConsecutiveReadErrors {
				return fmt.Errorf("serial read: %w", err)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		failures = 0

		if n == 0 {
			continue
		}

		data := buffer[:n]
		if err := app.recorder.Write(data, history.DirectionInput); err != nil {
			app.logger.Debug("transcript write", "err", err)
		}
		session.UpdateStats(0, int64(n))

		if app.config.EchoReceived {
			app.outMu.Lock()
			app.out.Write(data)
			app.outMu.Unlock()
		}
	}
}

// sendLine is the sequencer's send sink
func (app *Application) sendLine(line string) {
	app.printf("TX: %s\n", line)

	n, err := app.lineWriter.WriteLine(line)
	if n > 0 {
		if session := app.GetSession(); session != nil {
			session.UpdateStats(int64(n), 0)
		}
	}
	if err != nil {
		app.logger.Error("serial write failed", "line", line, "err", err)
		app.recorder.Note(fmt.Sprintf("write failed: %v", err))
		return
	}

	app.recorder.Write([]byte(line+app.lineWriter.Ending().Suffix()), history.DirectionOutput)
}

// logProgress is the sequencer's log sink
func (app *Application) logProgress(msg string) {
	app.printf("%s", msg)
	app.recorder.Note(msg)
}

func (app *Application) printf(format string, args ...any) {
	app.outMu.Lock()
	defer app.outMu.Unlock()

	fmt.Fprintf(app.out, format, args...)
}

// SaveTranscript writes the session transcript to filename
func (app *Application) SaveTranscript(filename string, format history.Format) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create transcript file: %w", err)
	}

	if err := app.recorder.Dump(file, format); err != nil {
		file.Close()
		return fmt.Errorf("failed to write transcript: %w", err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close transcript file: %w", err)
	}

	return nil
}

// Transcript returns the session transcript
func (app *Application) Transcript() *history.Recorder {
	return app.recorder
}

// GetSession returns the current session
func (app *Application) GetSession() *Session {
	app.mu.RLock()
	defer app.mu.RUnlock()

	return app.session
}

// GetStats returns application statistics
func (app *Application) GetStats() (bytesSent, bytesRecv int64, duration time.Duration) {
	session := app.GetSession()
	if session == nil {
		return 0, 0, 0
	}

	bytesSent, bytesRecv = session.GetStats()
	return bytesSent, bytesRecv, session.Duration()
}

// ConnectionState reports the port connection state
func (app *Application) ConnectionState() serial.ConnectionState {
	return app.serialPort.GetState()
}

// IsRunning returns whether the application is running
func (app *Application) IsRunning() bool {
	app.mu.RLock()
	defer app.mu.RUnlock()

	return app.isRunning
}

// IsBusy returns whether a script is executing
func (app *Application) IsBusy() bool {
	return app.sequencer.State() == batch.StateRunning
}
