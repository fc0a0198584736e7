package batch

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxScriptLine bounds a single script line; serial commands are short
const maxScriptLine = 1024 * 1024

// ReadScript reads a batch script, one line per entry.
// Blank lines are kept so that line numbers match the source file.
func ReadScript(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxScriptLine)

	var lines []string
	for scanner.Scan() {
		lines = append(lines, strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	return lines, nil
}

// LoadScript reads a batch script from a file
func LoadScript(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("script path cannot be empty")
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open script %s: %w", path, err)
	}
	defer f.Close()

	return ReadScript(f)
}

// SplitScript splits in-memory script text into lines
func SplitScript(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
