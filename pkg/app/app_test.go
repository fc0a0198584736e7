package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-batch/pkg/batch"
	"serial-batch/pkg/history"
	"serial-batch/pkg/serial"
)

// fakePort is an in-memory serial port. Bytes pushed with deliver are
// returned by Read; written bytes accumulate for inspection.
type fakePort struct {
	mu       sync.Mutex
	open     bool
	config   serial.SerialConfig
	written  bytes.Buffer
	closed   chan struct{}
	rx       chan []byte
	openErr  error
	writeErr error
	resets   int
}

func newFakePort() *fakePort {
	return &fakePort{rx: make(chan []byte, 16)}
}

func (p *fakePort) Open(config serial.SerialConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.openErr != nil {
		return p.openErr
	}
	p.open = true
	p.config = config
	p.closed = make(chan struct{})
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return serial.ErrPortClosed
	}
	p.open = false
	close(p.closed)
	return nil
}

func (p *fakePort) Read(buffer []byte) (int, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return 0, serial.ErrPortClosed
	}
	closed := p.closed
	p.mu.Unlock()

	select {
	case data := <-p.rx:
		return copy(buffer, data), nil
	case <-closed:
		return 0, serial.ErrPortClosed
	case <-time.After(10 * time.Millisecond):
		return 0, nil
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return 0, serial.ErrPortClosed
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return p.written.Write(data)
}

func (p *fakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePort) GetConfig() serial.SerialConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

func (p *fakePort) SetReadTimeout(timeout time.Duration) error { return nil }

func (p *fakePort) ResetBuffers() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	return nil
}

func (p *fakePort) deliver(s string) {
	p.rx <- []byte(s)
}

func (p *fakePort) sent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

// syncBuffer is a bytes.Buffer safe for concurrent writers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(out *syncBuffer) AppConfig {
	config := DefaultAppConfig()
	config.SerialConfig.Port = "/dev/ttyFAKE0"
	config.RetryConfig = serial.RetryConfig{
		MaxRetries:    1,
		RetryInterval: time.Millisecond,
		BackoffFactor: 1,
		MaxInterval:   time.Millisecond,
	}
	config.Output = out
	return config
}

func startTestApp(t *testing.T, config AppConfig) (*Application, *fakePort) {
	t.Helper()

	port := newFakePort()
	app, err := NewApplicationWithPort(config, port)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() { app.Stop() })
	return app, port
}

func waitReport(t *testing.T, ch <-chan batch.Report) batch.Report {
	t.Helper()

	select {
	case r, ok := <-ch:
		require.True(t, ok, "report channel closed without a report")
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch report")
		return batch.Report{}
	}
}

func TestSessionManagement(t *testing.T) {
	config := serial.DefaultConfig()
	config.Port = "COM1"

	session := NewSession("test_session", config)

	_, err := uuid.Parse(session.ID)
	assert.NoError(t, err, "session id should be a uuid")
	assert.Equal(t, "test_session", session.Name)
	assert.True(t, session.IsActive)

	session.UpdateStats(100, 200)
	sent, recv := session.GetStats()
	assert.Equal(t, int64(100), sent)
	assert.Equal(t, int64(200), recv)

	session.End()
	assert.False(t, session.IsActive)
	require.NotNil(t, session.EndTime)

	ended := *session.EndTime
	session.End()
	assert.Equal(t, ended, *session.EndTime, "End is idempotent")
	assert.Equal(t, ended.Sub(session.StartTime), session.Duration())
}

func TestAppConfig(t *testing.T) {
	config := DefaultAppConfig()

	assert.Equal(t, serial.EndingCRLF, config.LineEnding)
	assert.True(t, config.EchoReceived)
	assert.Equal(t, history.FormatTimestamped, config.TranscriptFormat)
	assert.NoError(t, config.RetryConfig.Validate())
}

func TestNewApplication_InvalidConfig(t *testing.T) {
	config := DefaultAppConfig()
	_, err := NewApplicationWithPort(config, newFakePort())
	assert.Error(t, err, "empty port name must be rejected")

	config.SerialConfig.Port = "COM1"
	config.RetryConfig.BackoffFactor = 0
	_, err = NewApplicationWithPort(config, newFakePort())
	assert.Error(t, err)
}

func TestApplication_RunScript(t *testing.T) {
	out := &syncBuffer{}
	app, port := startTestApp(t, testConfig(out))

	assert.Equal(t, 1, port.resets, "buffers are reset on start")
	assert.Equal(t, serial.StateConnected, app.ConnectionState())

	ch, err := app.RunScript([]string{"AT", "delay_ms(5)", "# comment", "", "AT+GMR"})
	require.NoError(t, err)

	report := waitReport(t, ch)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 1, report.Delays)
	assert.Equal(t, 2, report.Skipped)
	assert.False(t, report.Canceled)

	_, open := <-ch
	assert.False(t, open, "report channel is closed after delivery")

	assert.Equal(t, "AT\r\nAT+GMR\r\n", port.sent())
	assert.Contains(t, out.String(), "TX: AT\n>>: Delay 5 ms ...\nTX: AT+GMR\n")

	sent, _, _ := app.GetStats()
	assert.Equal(t, int64(12), sent)

	stats := app.Transcript().Stats()
	assert.Equal(t, 2, stats.OutputEntries)
	assert.Equal(t, 1, stats.NoteEntries)
	assert.False(t, app.IsBusy())
}

func TestApplication_ReceiveEcho(t *testing.T) {
	out := &syncBuffer{}
	app, port := startTestApp(t, testConfig(out))

	port.deliver("OK\r\n")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "OK\r\n")
	}, 2*time.Second, 5*time.Millisecond)

	_, recv, _ := app.GetStats()
	assert.Equal(t, int64(4), recv)
	assert.Equal(t, 1, app.Transcript().Stats().InputEntries)
}

func TestApplication_ReceiveWithoutEcho(t *testing.T) {
	out := &syncBuffer{}
	config := testConfig(out)
	config.EchoReceived = false
	app, port := startTestApp(t, config)

	port.deliver("HIDDEN")

	require.Eventually(t, func() bool {
		return app.Transcript().Stats().InputBytes == 6
	}, 2*time.Second, 5*time.Millisecond)
	assert.NotContains(t, out.String(), "HIDDEN")
}

func TestApplication_RunScriptNotRunning(t *testing.T) {
	app, err := NewApplicationWithPort(testConfig(&syncBuffer{}), newFakePort())
	require.NoError(t, err)

	_, err = app.RunScript([]string{"AT"})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestApplication_Cancel(t *testing.T) {
	app, port := startTestApp(t, testConfig(&syncBuffer{}))

	ch, err := app.RunScript([]string{"A", "delay(10)", "B"})
	require.NoError(t, err)
	assert.True(t, app.IsBusy())

	assert.True(t, app.Cancel())

	report := waitReport(t, ch)
	assert.True(t, report.Canceled)
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, "A\r\n", port.sent())
	assert.False(t, app.Cancel(), "nothing left to cancel")
}

func TestApplication_RunScriptReplaces(t *testing.T) {
	app, port := startTestApp(t, testConfig(&syncBuffer{}))

	first, err := app.RunScript([]string{"A", "delay(10)", "B"})
	require.NoError(t, err)
	second, err := app.RunScript([]string{"C"})
	require.NoError(t, err)

	assert.True(t, waitReport(t, first).Canceled)
	assert.False(t, waitReport(t, second).Canceled)
	assert.Equal(t, "A\r\nC\r\n", port.sent())
}

func TestApplication_StopCancelsScript(t *testing.T) {
	port := newFakePort()
	app, err := NewApplicationWithPort(testConfig(&syncBuffer{}), port)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))

	ch, err := app.RunScript([]string{"delay(10)", "NEVER"})
	require.NoError(t, err)

	require.NoError(t, app.Stop())

	assert.True(t, waitReport(t, ch).Canceled)
	assert.False(t, app.IsRunning())
	assert.False(t, port.IsOpen())
	assert.NotContains(t, port.sent(), "NEVER")

	session := app.GetSession()
	require.NotNil(t, session)
	assert.False(t, session.IsActive)

	assert.NoError(t, app.Stop(), "second Stop is a no-op")
}

func TestApplication_StartTwice(t *testing.T) {
	app, _ := startTestApp(t, testConfig(&syncBuffer{}))
	assert.Error(t, app.Start(context.Background()))
}

func TestApplication_StartOpenFailure(t *testing.T) {
	port := newFakePort()
	port.openErr = errors.New("permission denied")

	app, err := NewApplicationWithPort(testConfig(&syncBuffer{}), port)
	require.NoError(t, err)

	err = app.Start(context.Background())
	assert.ErrorIs(t, err, port.openErr)
	assert.False(t, app.IsRunning())
	assert.Equal(t, serial.StateError, app.ConnectionState())
}

func TestApplication_WriteFailure(t *testing.T) {
	out := &syncBuffer{}
	app, port := startTestApp(t, testConfig(out))
	port.writeErr = errors.New("i/o error")

	ch, err := app.RunScript([]string{"AT"})
	require.NoError(t, err)

	report := waitReport(t, ch)
	assert.Equal(t, 1, report.Sent, "the sequencer does not observe write errors")

	entries := app.Transcript().Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, history.DirectionNote, entries[0].Direction)
	assert.Contains(t, entries[0].Text(), "i/o error")
}

func TestApplication_TranscriptSavedOnStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")

	config := testConfig(&syncBuffer{})
	config.TranscriptPath = path

	port := newFakePort()
	app, err := NewApplicationWithPort(config, port)
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))

	ch, err := app.RunScript([]string{"AT"})
	require.NoError(t, err)
	waitReport(t, ch)

	require.NoError(t, app.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), ">> AT")
}

func TestApplication_SaveTranscriptEmptyName(t *testing.T) {
	app, err := NewApplicationWithPort(testConfig(&syncBuffer{}), newFakePort())
	require.NoError(t, err)
	assert.Error(t, app.SaveTranscript("", history.FormatJSON))
}
