package serial

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestParseLineEnding(t *testing.T) {
	tests := []struct {
		input   string
		want    LineEnding
		wantErr bool
	}{
		{"none", EndingNone, false},
		{"", EndingNone, false},
		{"LF", EndingLF, false},
		{"crlf", EndingCRLF, false},
		{" CRLF ", EndingCRLF, false},
		{`\r\n`, EndingCRLF, false},
		{"cr", EndingNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLineEnding(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLineEnding(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLineEnding(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLineEnding_TextRoundTrip(t *testing.T) {
	for _, e := range []LineEnding{EndingNone, EndingLF, EndingCRLF} {
		text, err := e.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText() error = %v", err)
		}

		var got LineEnding
		if err := got.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%q) error = %v", text, err)
		}
		if got != e {
			t.Errorf("round trip %v -> %q -> %v", e, text, got)
		}
	}

	var e LineEnding
	if err := e.UnmarshalText([]byte("tab")); err == nil {
		t.Error("UnmarshalText() should reject unknown endings")
	}
}

func TestLineWriter_WriteLine(t *testing.T) {
	tests := []struct {
		ending LineEnding
		want   string
	}{
		{EndingNone, "AT+RST"},
		{EndingLF, "AT+RST\n"},
		{EndingCRLF, "AT+RST\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.ending.String(), func(t *testing.T) {
			var buf bytes.Buffer
			lw := NewLineWriter(&buf, tt.ending)

			n, err := lw.WriteLine("AT+RST")
			if err != nil {
				t.Fatalf("WriteLine() error = %v", err)
			}
			if n != len(tt.want) {
				t.Errorf("WriteLine() n = %d, want %d", n, len(tt.want))
			}
			if buf.String() != tt.want {
				t.Errorf("written = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

// chunkWriter accepts at most size bytes per call
type chunkWriter struct {
	buf  bytes.Buffer
	size int
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	if len(p) > w.size {
		p = p[:w.size]
	}
	return w.buf.Write(p)
}

func TestLineWriter_ShortWrites(t *testing.T) {
	w := &chunkWriter{size: 2}
	lw := NewLineWriter(w, EndingCRLF)

	if _, err := lw.WriteLine("HELLO"); err != nil {
		t.Fatalf("WriteLine() error = %v", err)
	}
	if w.buf.String() != "HELLO\r\n" {
		t.Errorf("written = %q", w.buf.String())
	}

	stuck := NewLineWriter(&chunkWriter{size: 0}, EndingNone)
	if _, err := stuck.WriteLine("X"); !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("WriteLine() error = %v, want io.ErrShortWrite", err)
	}
}
