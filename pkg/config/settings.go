package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"serial-batch/pkg/serial"
)

// Settings is the user settings file (settings.yaml)
type Settings struct {
	// Serial holds defaults applied before profile and flag overrides
	Serial     serial.SerialConfig `yaml:"serial"`
	LineEnding serial.LineEnding   `yaml:"line_ending"`
	Retry      serial.RetryConfig  `yaml:"retry"`
	Echo       bool                `yaml:"echo"`
	ScriptsDir string              `yaml:"scripts_dir"`
	Transcript struct {
		Path    string `yaml:"path"`
		Format  string `yaml:"format"`
		MaxSize int    `yaml:"max_size"`
	} `yaml:"transcript"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultSettings returns the settings used when no file exists
func DefaultSettings() Settings {
	s := Settings{
		Serial:     serial.DefaultConfig(),
		LineEnding: serial.EndingCRLF,
		Retry:      serial.DefaultRetryConfig(),
		Echo:       true,
		ScriptsDir: "scripts",
	}
	s.Transcript.Format = "timestamped"
	s.Log.Level = "info"
	s.Log.Format = "text"
	return s
}

// SettingsPath returns the settings file location inside dir
func SettingsPath(dir string) string {
	return filepath.Join(dir, "settings.yaml")
}

// LoadSettings reads settings from path. A missing file yields the defaults;
// keys absent from the file keep their default values.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}

	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	if s.Log.Format == "" {
		s.Log.Format = "text"
	}
	if s.Transcript.Format == "" {
		s.Transcript.Format = "timestamped"
	}

	if err := s.Validate(); err != nil {
		return Settings{}, fmt.Errorf("invalid settings in %s: %w", path, err)
	}

	return s, nil
}

// SaveSettings writes s to path as YAML, creating the parent directory
func SaveSettings(path string, s Settings) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	return writeFileAtomic(path, data)
}

// Validate checks the settings values. The serial port name may be empty
// here; it is required only once a run resolves its final configuration.
func (s Settings) Validate() error {
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", s.Log.Level)
	}

	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", s.Log.Format)
	}

	switch strings.ToLower(s.Transcript.Format) {
	case "plain", "timestamped", "json":
	default:
		return fmt.Errorf("transcript.format must be plain, timestamped or json, got %q", s.Transcript.Format)
	}

	if s.Transcript.MaxSize < 0 {
		return fmt.Errorf("transcript.max_size cannot be negative")
	}

	if err := s.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	withPort := s.Serial
	if withPort.Port == "" {
		withPort.Port = "placeholder"
	}
	if err := withPort.Validate(); err != nil {
		return fmt.Errorf("serial: %w", err)
	}

	return nil
}
