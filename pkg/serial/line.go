package serial

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// LineEnding is the terminator appended to each transmitted line
type LineEnding int

const (
	EndingNone LineEnding = iota
	EndingLF
	EndingCRLF
)

// String returns the string representation of LineEnding
func (e LineEnding) String() string {
	switch e {
	case EndingNone:
		return "none"
	case EndingLF:
		return "lf"
	case EndingCRLF:
		return "crlf"
	default:
		return "unknown"
	}
}

// Suffix returns the bytes appended after a line
func (e LineEnding) Suffix() string {
	switch e {
	case EndingLF:
		return "\n"
	case EndingCRLF:
		return "\r\n"
	default:
		return ""
	}
}

// ParseLineEnding parses none, lf or crlf (case-insensitive)
func ParseLineEnding(s string) (LineEnding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return EndingNone, nil
	case "lf", "\\n":
		return EndingLF, nil
	case "crlf", "\\r\\n":
		return EndingCRLF, nil
	default:
		return EndingNone, fmt.Errorf("invalid line ending: %q (want none, lf or crlf)", s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (e LineEnding) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (e *LineEnding) UnmarshalText(text []byte) error {
	parsed, err := ParseLineEnding(string(text))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}

// LineWriter writes whole terminated lines to a port
type LineWriter struct {
	mu     sync.Mutex
	w      io.Writer
	ending LineEnding
}

// NewLineWriter creates a line writer over w
func NewLineWriter(w io.Writer, ending LineEnding) *LineWriter {
	return &LineWriter{w: w, ending: ending}
}

// WriteLine writes line followed by the configured terminator.
// It returns the number of bytes written, terminator included.
func (lw *LineWriter) WriteLine(line string) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	data := []byte(line + lw.ending.Suffix())
	written := 0
	for written < len(data) {
		n, err := lw.w.Write(data[written:])
		written += n
		if err != nil {
			return written, err
		}
		if n == 0 {
			return written, io.ErrShortWrite
		}
	}

	return written, nil
}

// Ending returns the configured terminator
func (lw *LineWriter) Ending() LineEnding {
	return lw.ending
}
