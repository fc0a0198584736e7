// Package serial provides serial port communication functionality
package serial

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

// ErrPortClosed is returned by operations that need an open port
var ErrPortClosed = errors.New("serial port is not open")

// SerialConfig defines the configuration for serial port communication
type SerialConfig struct {
	Port     string        `json:"port" yaml:"port"`
	BaudRate int           `json:"baud_rate" yaml:"baud_rate"`
	DataBits int           `json:"data_bits" yaml:"data_bits"`
	StopBits int           `json:"stop_bits" yaml:"stop_bits"`
	Parity   string        `json:"parity" yaml:"parity"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout"`
}

var validBaudRates = []int{1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}

var validParity = []string{"none", "odd", "even", "mark", "space"}

// Validate checks if the serial configuration is valid
func (c SerialConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}

	validBaud := false
	for _, rate := range validBaudRates {
		if c.BaudRate == rate {
			validBaud = true
			break
		}
	}
	if !validBaud {
		return fmt.Errorf("invalid baud rate: %d", c.BaudRate)
	}

	if c.DataBits < 5 || c.DataBits > 8 {
		return fmt.Errorf("data bits must be between 5 and 8, got: %d", c.DataBits)
	}

	if c.StopBits < 1 || c.StopBits > 2 {
		return fmt.Errorf("stop bits must be 1 or 2, got: %d", c.StopBits)
	}

	validParityFound := false
	for _, p := range validParity {
		if c.Parity == p {
			validParityFound = true
			break
		}
	}
	if !validParityFound {
		return fmt.Errorf("invalid parity: %s", c.Parity)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	return nil
}

// Summary renders the line settings the way terminals usually show them, e.g. "115200 8-N-1"
func (c SerialConfig) Summary() string {
	parity := "N"
	if c.Parity != "" {
		parity = strings.ToUpper(c.Parity[:1])
	}
	return fmt.Sprintf("%d %d-%s-%d", c.BaudRate, c.DataBits, parity, c.StopBits)
}

// DefaultConfig returns a default serial configuration
func DefaultConfig() SerialConfig {
	return SerialConfig{
		Port:     "",
		BaudRate: 115200,
		DataBits: 8,
		StopBits: 1,
		Parity:   "none",
		Timeout:  100 * time.Millisecond,
	}
}

// SerialPort interface defines the contract for serial port operations
type SerialPort interface {
	Open(config SerialConfig) error
	Close() error
	Read(buffer []byte) (int, error)
	Write(data []byte) (int, error)
	IsOpen() bool
	GetConfig() SerialConfig
	SetReadTimeout(timeout time.Duration) error
	ResetBuffers() error
}

// CrossPlatformSerialPort implements SerialPort interface using go.bug.st/serial
type CrossPlatformSerialPort struct {
	mu     sync.RWMutex
	port   serial.Port
	config SerialConfig
	isOpen bool
}

// NewCrossPlatformSerialPort creates a new cross-platform serial port instance
func NewCrossPlatformSerialPort() *CrossPlatformSerialPort {
	return &CrossPlatformSerialPort{}
}

// Open opens the serial port with the given configuration
func (sp *CrossPlatformSerialPort) Open(config SerialConfig) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.isOpen {
		return fmt.Errorf("serial port is already open")
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Convert our config to go.bug.st/serial config
	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		DataBits: config.DataBits,
		StopBits: convertStopBits(config.StopBits),
		Parity:   convertParity(config.Parity),
	}

	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return NewSerialError("open", config.Port, err)
	}

	if config.Timeout > 0 {
		if err := port.SetReadTimeout(config.Timeout); err != nil {
			port.Close()
			return NewSerialError("set read timeout", config.Port, err)
		}
	}

	sp.port = port
	sp.config = config
	sp.isOpen = true

	return nil
}

// Close closes the serial port
func (sp *CrossPlatformSerialPort) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if !sp.isOpen {
		return ErrPortClosed
	}

	err := sp.port.Close()
	sp.port = nil
	sp.isOpen = false

	if err != nil {
		return NewSerialError("close", sp.config.Port, err)
	}

	return nil
}

// Read reads data from the serial port
func (sp *CrossPlatformSerialPort) Read(buffer []byte) (int, error) {
	port, err := sp.openPort()
	if err != nil {
		return 0, err
	}

	n, err := port.Read(buffer)
	if err != nil {
		return n, NewSerialError("read", sp.GetConfig().Port, err)
	}

	return n, nil
}

// Write writes data to the serial port
func (sp *CrossPlatformSerialPort) Write(data []byte) (int, error) {
	port, err := sp.openPort()
	if err != nil {
		return 0, err
	}

	n, err := port.Write(data)
	if err != nil {
		return n, NewSerialError("write", sp.GetConfig().Port, err)
	}

	return n, nil
}

// IsOpen returns true if the serial port is open
func (sp *CrossPlatformSerialPort) IsOpen() bool {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	return sp.isOpen
}

// GetConfig returns the current serial port configuration
func (sp *CrossPlatformSerialPort) GetConfig() SerialConfig {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	return sp.config
}

// SetReadTimeout sets the read timeout for the serial port
func (sp *CrossPlatformSerialPort) SetReadTimeout(timeout time.Duration) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if !sp.isOpen {
		return ErrPortClosed
	}

	if err := sp.port.SetReadTimeout(timeout); err != nil {
		return NewSerialError("set read timeout", sp.config.Port, err)
	}

	sp.config.Timeout = timeout
	return nil
}

// ResetBuffers discards pending input and output
func (sp *CrossPlatformSerialPort) ResetBuffers() error {
	port, err := sp.openPort()
	if err != nil {
		return err
	}

	if err := port.ResetInputBuffer(); err != nil {
		return NewSerialError("reset input", sp.GetConfig().Port, err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		return NewSerialError("reset output", sp.GetConfig().Port, err)
	}

	return nil
}

// openPort returns the underlying port without holding the lock during I/O,
// so a blocked Read does not prevent Write or Close.
func (sp *CrossPlatformSerialPort) openPort() (serial.Port, error) {
	sp.mu.RLock()
	defer sp.mu.RUnlock()

	if !sp.isOpen {
		return nil, ErrPortClosed
	}
	return sp.port, nil
}

// convertStopBits converts our stop bits format to go.bug.st/serial format
func convertStopBits(stopBits int) serial.StopBits {
	switch stopBits {
	case 2:
		return serial.TwoStopBits
	default:
		return serial.OneStopBit
	}
}

// convertParity converts our parity format to go.bug.st/serial format
func convertParity(parity string) serial.Parity {
	switch parity {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	case "mark":
		return serial.MarkParity
	case "space":
		return serial.SpaceParity
	default:
		return serial.NoParity
	}
}

// NewSerialPort creates a new serial port instance (convenience function)
func NewSerialPort() SerialPort {
	return NewCrossPlatformSerialPort()
}

// SerialError represents a serial port specific error
type SerialError struct {
	Operation string
	Port      string
	Cause     error
}

// Error implements the error interface
func (e *SerialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("serial %s operation failed on port %s: %v", e.Operation, e.Port, e.Cause)
	}
	return fmt.Sprintf("serial %s operation failed on port %s", e.Operation, e.Port)
}

// Unwrap returns the underlying cause
func (e *SerialError) Unwrap() error {
	return e.Cause
}

// NewSerialError creates a new serial error
func NewSerialError(operation, port string, cause error) *SerialError {
	return &SerialError{
		Operation: operation,
		Port:      port,
		Cause:     cause,
	}
}

// PortErrorCode extracts the go.bug.st/serial error code from err, if any
func PortErrorCode(err error) (serial.PortErrorCode, bool) {
	var portErr *serial.PortError
	if errors.As(err, &portErr) {
		return portErr.Code(), true
	}
	return 0, false
}
