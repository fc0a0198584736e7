package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func fixedClock(r *Recorder) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	r.now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Millisecond)
	}
}

func TestDirection_String(t *testing.T) {
	tests := []struct {
		direction Direction
		expected  string
	}{
		{DirectionInput, "input"},
		{DirectionOutput, "output"},
		{DirectionNote, "note"},
		{Direction(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.direction.String(); got != tt.expected {
				t.Errorf("Direction.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFormat_String(t *testing.T) {
	tests := []struct {
		format   Format
		expected string
	}{
		{FormatPlainText, "plain_text"},
		{FormatTimestamped, "timestamped"},
		{FormatJSON, "json"},
		{Format(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.format.String(); got != tt.expected {
				t.Errorf("Format.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{"plain", FormatPlainText, false},
		{"TEXT", FormatPlainText, false},
		{"", FormatTimestamped, false},
		{"timestamped", FormatTimestamped, false},
		{"json", FormatJSON, false},
		{"xml", FormatPlainText, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRecorder_Write(t *testing.T) {
	r := NewRecorder(1024)

	if err := r.Write([]byte("AT\r\n"), DirectionOutput); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := r.Write([]byte("OK\r\n"), DirectionInput); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := r.Note(">>: Delay 10 ms ...\n"); err != nil {
		t.Fatalf("Note() error = %v", err)
	}

	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}

	entries := r.Entries()
	if entries[0].Text() != "AT\r\n" || entries[0].Direction != DirectionOutput {
		t.Errorf("entries[0] = %+v", entries[0])
	}
	if entries[2].Direction != DirectionNote {
		t.Errorf("entries[2].Direction = %v, want note", entries[2].Direction)
	}
}

func TestRecorder_WriteInvalid(t *testing.T) {
	r := NewRecorder(8)

	if err := r.Write(nil, DirectionInput); err == nil {
		t.Error("Write(nil) should fail")
	}
	if err := r.Write([]byte("x"), Direction(7)); err == nil {
		t.Error("Write() with invalid direction should fail")
	}
	if err := r.Write([]byte("123456789"), DirectionInput); err == nil {
		t.Error("Write() larger than the limit should fail")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRecorder_WriteCopiesData(t *testing.T) {
	r := NewRecorder(0)

	data := []byte("hello")
	if err := r.Write(data, DirectionInput); err != nil {
		t.Fatal(err)
	}
	data[0] = 'j'

	if got := r.Entries()[0].Text(); got != "hello" {
		t.Errorf("stored data = %q, want hello", got)
	}
}

func TestRecorder_Eviction(t *testing.T) {
	r := NewRecorder(10)

	for _, s := range []string{"aaaa", "bbbb", "cccc"} {
		if err := r.Write([]byte(s), DirectionInput); err != nil {
			t.Fatal(err)
		}
	}

	if r.Size() != 8 {
		t.Errorf("Size() = %d, want 8", r.Size())
	}

	entries := r.Entries()
	if len(entries) != 2 || entries[0].Text() != "bbbb" {
		t.Errorf("entries after eviction = %v", entries)
	}

	if got := r.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestRecorder_Stats(t *testing.T) {
	r := NewRecorder(0)
	fixedClock(r)

	if stats := r.Stats(); stats.OldestEntry != nil || stats.TotalEntries != 0 {
		t.Errorf("empty stats = %+v", stats)
	}

	r.Write([]byte("AT\n"), DirectionOutput)
	r.Write([]byte("OK\n"), DirectionInput)
	r.Write([]byte("ERROR\n"), DirectionInput)
	r.Note("note")

	stats := r.Stats()
	if stats.TotalEntries != 4 {
		t.Errorf("TotalEntries = %d, want 4", stats.TotalEntries)
	}
	if stats.InputEntries != 2 || stats.InputBytes != 9 {
		t.Errorf("input = %d entries / %d bytes", stats.InputEntries, stats.InputBytes)
	}
	if stats.OutputEntries != 1 || stats.OutputBytes != 3 {
		t.Errorf("output = %d entries / %d bytes", stats.OutputEntries, stats.OutputBytes)
	}
	if stats.NoteEntries != 1 {
		t.Errorf("NoteEntries = %d, want 1", stats.NoteEntries)
	}
	if stats.MaxSize != DefaultMaxSize {
		t.Errorf("MaxSize = %d, want %d", stats.MaxSize, DefaultMaxSize)
	}
	if stats.OldestEntry == nil || stats.NewestEntry == nil || !stats.NewestEntry.After(*stats.OldestEntry) {
		t.Errorf("timestamps = %v / %v", stats.OldestEntry, stats.NewestEntry)
	}
}

func TestRecorder_Clear(t *testing.T) {
	r := NewRecorder(0)
	r.Write([]byte("data"), DirectionInput)

	r.Clear()

	if r.Len() != 0 || r.Size() != 0 {
		t.Errorf("after Clear: Len=%d Size=%d", r.Len(), r.Size())
	}
}

func TestRecorder_DumpPlainText(t *testing.T) {
	r := NewRecorder(0)
	r.Write([]byte("AT\r\n"), DirectionOutput)
	r.Note("skipped")
	r.Write([]byte("OK\r\n"), DirectionInput)

	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatPlainText); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	if buf.String() != "AT\r\nOK\r\n" {
		t.Errorf("Dump() = %q", buf.String())
	}
}

func TestRecorder_DumpTimestamped(t *testing.T) {
	r := NewRecorder(0)
	fixedClock(r)
	r.Write([]byte("AT\r\n"), DirectionOutput)
	r.Write([]byte("OK\r\nREADY"), DirectionInput)
	r.Note(">>: Delay 1 seconds ...\n")

	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatTimestamped); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	want := strings.Join([]string{
		"[2024-03-01 12:00:00.001] >> AT",
		`[2024-03-01 12:00:00.002] << OK\r\nREADY`,
		"[2024-03-01 12:00:00.003] -- >>: Delay 1 seconds ...",
		"",
	}, "\n")
	if buf.String() != want {
		t.Errorf("Dump() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestRecorder_DumpJSON(t *testing.T) {
	r := NewRecorder(0)
	r.Write([]byte("AT"), DirectionOutput)
	r.Write([]byte("OK"), DirectionInput)

	var buf bytes.Buffer
	if err := r.Dump(&buf, FormatJSON); err != nil {
		t.Fatalf("Dump() error = %v", err)
	}

	var decoded struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Count != 2 || decoded.Entries[1].Text() != "OK" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestRecorder_DumpUnsupported(t *testing.T) {
	r := NewRecorder(0)
	if err := r.Dump(&bytes.Buffer{}, Format(42)); err == nil {
		t.Error("Dump() with unknown format should fail")
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Write([]byte(fmt.Sprintf("%d-%d", i, j)), DirectionInput)
				_ = r.Stats()
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 800 {
		t.Errorf("Len() = %d, want 800", r.Len())
	}
}
