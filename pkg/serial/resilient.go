package serial

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ConnectionState represents the state of a serial connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the string representation of ConnectionState
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// RetryConfig defines configuration for connection retry logic
type RetryConfig struct {
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	MaxInterval   time.Duration `json:"max_interval" yaml:"max_interval"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		RetryInterval: time.Second,
		BackoffFactor: 2.0,
		MaxInterval:   time.Second * 10,
	}
}

// Validate checks if the retry configuration is valid
func (r RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	if r.RetryInterval < 0 {
		return fmt.Errorf("retry interval cannot be negative")
	}

	if r.BackoffFactor < 1.0 {
		return fmt.Errorf("backoff factor must be >= 1.0")
	}

	if r.MaxInterval < r.RetryInterval {
		return fmt.Errorf("max interval cannot be less than retry interval")
	}

	return nil
}

// nextInterval applies the backoff factor, capped at MaxInterval
func (r RetryConfig) nextInterval(interval time.Duration) time.Duration {
	interval = time.Duration(float64(interval) * r.BackoffFactor)
	if interval > r.MaxInterval {
		interval = r.MaxInterval
	}
	return interval
}

// ResilientSerialPort wraps a SerialPort with retry on open
type ResilientSerialPort struct {
	SerialPort
	retryConfig RetryConfig

	mu        sync.RWMutex
	lastError error
	state     ConnectionState
}

// NewResilientSerialPort creates a resilient port around base.
// A nil base uses the go.bug.st/serial implementation.
func NewResilientSerialPort(base SerialPort, retryConfig RetryConfig) *ResilientSerialPort {
	if base == nil {
		base = NewCrossPlatformSerialPort()
	}
	return &ResilientSerialPort{
		SerialPort:  base,
		retryConfig: retryConfig,
		state:       StateDisconnected,
	}
}

// Open opens the port with retry, without cancellation
func (rsp *ResilientSerialPort) Open(config SerialConfig) error {
	return rsp.OpenWithRetry(context.Background(), config)
}

// OpenWithRetry opens the serial port, retrying recoverable failures with
// exponential backoff until the retries are used up or ctx is done.
func (rsp *ResilientSerialPort) OpenWithRetry(ctx context.Context, config SerialConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := rsp.retryConfig.Validate(); err != nil {
		return fmt.Errorf("invalid retry configuration: %w", err)
	}

	rsp.setState(StateConnecting, nil)

	var lastErr error
	interval := rsp.retryConfig.RetryInterval
	attempts := 0

	for attempt := 0; attempt <= rsp.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				rsp.setState(StateError, ctx.Err())
				return fmt.Errorf("open %s canceled: %w", config.Port, ctx.Err())
			case <-time.After(interval):
			}
			interval = rsp.retryConfig.nextInterval(interval)
		}

		attempts++
		err := rsp.SerialPort.Open(config)
		if err == nil {
			rsp.setState(StateConnected, nil)
			return nil
		}

		lastErr = err
		if !isRecoverableError(err) {
			break
		}
	}

	rsp.setState(StateError, lastErr)
	return fmt.Errorf("failed to open serial port after %d attempt(s): %w", attempts, lastErr)
}

// Close closes the serial port and updates state
func (rsp *ResilientSerialPort) Close() error {
	err := rsp.SerialPort.Close()
	if err != nil {
		rsp.setState(StateError, err)
		return err
	}

	rsp.setState(StateDisconnected, nil)
	return nil
}

// GetState returns the current connection state
func (rsp *ResilientSerialPort) GetState() ConnectionState {
	rsp.mu.RLock()
	defer rsp.mu.RUnlock()

	return rsp.state
}

// GetLastError returns the last error that occurred
func (rsp *ResilientSerialPort) GetLastError() error {
	rsp.mu.RLock()
	defer rsp.mu.RUnlock()

	return rsp.lastError
}

func (rsp *ResilientSerialPort) setState(state ConnectionState, err error) {
	rsp.mu.Lock()
	defer rsp.mu.Unlock()

	rsp.state = state
	rsp.lastError = err
}

// isRecoverableError determines if an error is recoverable and retry should be attempted
func isRecoverableError(err error) bool {
	if err == nil {
		return false
	}

	if code, ok := PortErrorCode(err); ok {
		switch code {
		case serial.PortBusy, serial.PortNotFound:
			// Device may be released or re-enumerated
			return true
		default:
			return false
		}
	}

	errorStr := strings.ToLower(err.Error())
	recoverablePatterns := []string{
		"device busy",
		"resource temporarily unavailable",
		"timeout",
		"connection refused",
		"no such device",
	}

	for _, pattern := range recoverablePatterns {
		if strings.Contains(errorStr, pattern) {
			return true
		}
	}

	return false
}
