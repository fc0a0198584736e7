// Package history keeps an in-memory transcript of a batch session
package history

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Direction represents the direction of data flow
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionNote
)

// String returns the string representation of Direction
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "input"
	case DirectionOutput:
		return "output"
	case DirectionNote:
		return "note"
	default:
		return "unknown"
	}
}

// marker is the prefix used in timestamped dumps
func (d Direction) marker() string {
	switch d {
	case DirectionInput:
		return "<<"
	case DirectionOutput:
		return ">>"
	default:
		return "--"
	}
}

// Format selects how Dump renders the transcript
type Format int

const (
	FormatPlainText Format = iota
	FormatTimestamped
	FormatJSON
)

// String returns the string representation of Format
func (f Format) String() string {
	switch f {
	case FormatPlainText:
		return "plain_text"
	case FormatTimestamped:
		return "timestamped"
	case FormatJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParseFormat parses plain, timestamped or json
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "plain_text", "text":
		return FormatPlainText, nil
	case "timestamped", "":
		return FormatTimestamped, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatPlainText, fmt.Errorf("unsupported format: %q", s)
	}
}

// Entry is a single transcript record
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Direction Direction `json:"direction"`
	Data      []byte    `json:"data"`
}

// Text returns the entry payload as a string
func (e Entry) Text() string {
	return string(e.Data)
}

// Stats summarizes the transcript
type Stats struct {
	TotalEntries  int        `json:"total_entries"`
	TotalBytes    int        `json:"total_bytes"`
	InputEntries  int        `json:"input_entries"`
	OutputEntries int        `json:"output_entries"`
	NoteEntries   int        `json:"note_entries"`
	InputBytes    int        `json:"input_bytes"`
	OutputBytes   int        `json:"output_bytes"`
	MaxSize       int        `json:"max_size"`
	Dropped       int        `json:"dropped"`
	OldestEntry   *time.Time `json:"oldest_entry,omitempty"`
	NewestEntry   *time.Time `json:"newest_entry,omitempty"`
}

// DefaultMaxSize bounds the transcript payload
const DefaultMaxSize = 4 * 1024 * 1024

// Recorder is a bounded, concurrency-safe transcript. When the payload
// exceeds the size limit the oldest entries are evicted.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	maxSize int
	dropped int
	now     func() time.Time
}

// NewRecorder creates a recorder holding at most maxSize payload bytes.
// A non-positive maxSize uses DefaultMaxSize.
func NewRecorder(maxSize int) *Recorder {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return &Recorder{
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Write appends a copy of data to the transcript
func (r *Recorder) Write(data []byte, direction Direction) error {
	if data == nil {
		return fmt.Errorf("data cannot be nil")
	}

	if direction < DirectionInput || direction > DirectionNote {
		return fmt.Errorf("invalid direction: %d", direction)
	}

	if len(data) > r.maxSize {
		return fmt.Errorf("entry of %d bytes exceeds transcript limit %d", len(data), r.maxSize)
	}

	entry := Entry{
		Direction: direction,
		Data:      append([]byte(nil), data...),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry.Timestamp = r.now()

	for r.size+len(data) > r.maxSize && len(r.entries) > 0 {
		r.size -= len(r.entries[0].Data)
		r.entries[0] = Entry{}
		r.entries = r.entries[1:]
		r.dropped++
	}

	r.entries = append(r.entries, entry)
	r.size += len(data)
	return nil
}

// Note records a sequencer message
func (r *Recorder) Note(msg string) error {
	return r.Write([]byte(msg), DirectionNote)
}

// Entries returns a copy of the transcript, oldest first
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

// Len returns the number of entries
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.entries)
}

// Size returns the total payload size in bytes
func (r *Recorder) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.size
}

// Stats returns transcript statistics
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		TotalEntries: len(r.entries),
		TotalBytes:   r.size,
		MaxSize:      r.maxSize,
		Dropped:      r.dropped,
	}

	for _, entry := range r.entries {
		switch entry.Direction {
		case DirectionInput:
			stats.InputEntries++
			stats.InputBytes += len(entry.Data)
		case DirectionOutput:
			stats.OutputEntries++
			stats.OutputBytes += len(entry.Data)
		case DirectionNote:
			stats.NoteEntries++
		}
	}

	if len(r.entries) > 0 {
		oldest := r.entries[0].Timestamp
		newest := r.entries[len(r.entries)-1].Timestamp
		stats.OldestEntry = &oldest
		stats.NewestEntry = &newest
	}

	return stats
}

// Clear removes all entries
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = nil
	r.size = 0
	r.dropped = 0
}

// Dump writes the transcript to w in the given format
func (r *Recorder) Dump(w io.Writer, format Format) error {
	entries := r.Entries()

	switch format {
	case FormatPlainText:
		return dumpPlainText(w, entries)
	case FormatTimestamped:
		return dumpTimestamped(w, entries)
	case FormatJSON:
		return dumpJSON(w, entries)
	default:
		return fmt.Errorf("unsupported format: %v", format)
	}
}

// dumpPlainText writes the raw payloads, skipping notes
func dumpPlainText(w io.Writer, entries []Entry) error {
	for _, entry := range entries {
		if entry.Direction == DirectionNote {
			continue
		}
		if _, err := w.Write(entry.Data); err != nil {
			return fmt.Errorf("failed to write data: %w", err)
		}
	}
	return nil
}

func dumpTimestamped(w io.Writer, entries []Entry) error {
	for _, entry := range entries {
		text := strings.TrimRight(string(entry.Data), "\r\n")
		text = strings.ReplaceAll(text, "\r", "\\r")
		text = strings.ReplaceAll(text, "\n", "\\n")

		line := fmt.Sprintf("[%s] %s %s\n",
			entry.Timestamp.Format("2006-01-02 15:04:05.000"),
			entry.Direction.marker(),
			text)

		if _, err := io.WriteString(w, line); err != nil {
			return fmt.Errorf("failed to write timestamped data: %w", err)
		}
	}
	return nil
}

func dumpJSON(w io.Writer, entries []Entry) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")

	data := struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}{
		Entries: entries,
		Count:   len(entries),
	}

	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	return nil
}
