// Package config stores named port profiles and the YAML settings file
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"serial-batch/pkg/serial"
)

// ErrNotFound is returned when a named profile does not exist
var ErrNotFound = errors.New("profile not found")

// ProfileManager defines the contract for profile operations
type ProfileManager interface {
	SaveProfile(profile Profile) error
	LoadProfile(name string) (Profile, error)
	ListProfiles() ([]Profile, error)
	DeleteProfile(name string) error
	UpdateProfile(name string, config serial.SerialConfig) error
	ProfileExists(name string) bool
}

// Profile is a named port setup a batch run can reuse
type Profile struct {
	Name        string              `json:"name"`
	Config      serial.SerialConfig `json:"config"`
	LineEnding  serial.LineEnding   `json:"line_ending"`
	Description string              `json:"description,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	LastUsedAt  time.Time           `json:"last_used_at"`
}

// Validate checks if the profile is valid
func (p Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	if err := p.Config.Validate(); err != nil {
		return fmt.Errorf("invalid serial config: %w", err)
	}

	return nil
}

// profileStorage is the on-disk layout of the profiles file
type profileStorage struct {
	Profiles map[string]Profile `json:"profiles"`
	Version  string             `json:"version"`
}

const storageVersion = "1.0"

// FileConfigManager implements ProfileManager on a JSON file
type FileConfigManager struct {
	configDir  string
	configFile string
	now        func() time.Time
}

// NewFileConfigManager creates a profile manager rooted at configDir
func NewFileConfigManager(configDir string) *FileConfigManager {
	return &FileConfigManager{
		configDir:  configDir,
		configFile: "profiles.json",
		now:        time.Now,
	}
}

// DefaultDir returns the per-user configuration directory for serial-batch
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, "serial-batch"), nil
}

// Initialize creates the configuration directory
func (fcm *FileConfigManager) Initialize() error {
	if err := os.MkdirAll(fcm.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return nil
}

// SaveProfile creates or replaces a profile, keeping the original creation time
func (fcm *FileConfigManager) SaveProfile(profile Profile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	if err := fcm.Initialize(); err != nil {
		return err
	}

	storage, err := fcm.loadStorage()
	if err != nil {
		return fmt.Errorf("failed to load existing profiles: %w", err)
	}

	now := fcm.now()
	profile.CreatedAt = now
	profile.LastUsedAt = now

	if existing, exists := storage.Profiles[profile.Name]; exists {
		profile.CreatedAt = existing.CreatedAt
		if profile.Description == "" {
			profile.Description = existing.Description
		}
	}

	storage.Profiles[profile.Name] = profile

	if err := fcm.saveStorage(storage); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}

	return nil
}

// LoadProfile loads a profile by name and stamps its last use
func (fcm *FileConfigManager) LoadProfile(name string) (Profile, error) {
	if name == "" {
		return Profile{}, fmt.Errorf("profile name cannot be empty")
	}

	storage, err := fcm.loadStorage()
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load profiles: %w", err)
	}

	profile, exists := storage.Profiles[name]
	if !exists {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	profile.LastUsedAt = fcm.now()
	storage.Profiles[name] = profile

	// Best effort
	_ = fcm.saveStorage(storage)

	return profile, nil
}

// ListProfiles returns all saved profiles sorted by name
func (fcm *FileConfigManager) ListProfiles() ([]Profile, error) {
	storage, err := fcm.loadStorage()
	if err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	profiles := make([]Profile, 0, len(storage.Profiles))
	for _, profile := range storage.Profiles {
		profiles = append(profiles, profile)
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].Name < profiles[j].Name
	})

	return profiles, nil
}

// DeleteProfile deletes a profile by name
func (fcm *FileConfigManager) DeleteProfile(name string) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	storage, err := fcm.loadStorage()
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	if _, exists := storage.Profiles[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	delete(storage.Profiles, name)

	if err := fcm.saveStorage(storage); err != nil {
		return fmt.Errorf("failed to save profiles after deletion: %w", err)
	}

	return nil
}

// UpdateProfile replaces the serial settings of an existing profile
func (fcm *FileConfigManager) UpdateProfile(name string, config serial.SerialConfig) error {
	if name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	storage, err := fcm.loadStorage()
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	existing, exists := storage.Profiles[name]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	existing.Config = config
	existing.LastUsedAt = fcm.now()
	storage.Profiles[name] = existing

	if err := fcm.saveStorage(storage); err != nil {
		return fmt.Errorf("failed to save updated profile: %w", err)
	}

	return nil
}

// ProfileExists checks if a profile with the given name exists
func (fcm *FileConfigManager) ProfileExists(name string) bool {
	if name == "" {
		return false
	}

	storage, err := fcm.loadStorage()
	if err != nil {
		return false
	}

	_, exists := storage.Profiles[name]
	return exists
}

// GetConfigPath returns the full path to the profiles file
func (fcm *FileConfigManager) GetConfigPath() string {
	return filepath.Join(fcm.configDir, fcm.configFile)
}

func (fcm *FileConfigManager) loadStorage() (profileStorage, error) {
	data, err := os.ReadFile(fcm.GetConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return profileStorage{
				Profiles: make(map[string]Profile),
				Version:  storageVersion,
			}, nil
		}
		return profileStorage{}, fmt.Errorf("failed to read profiles file: %w", err)
	}

	var storage profileStorage
	if err := json.Unmarshal(data, &storage); err != nil {
		return profileStorage{}, fmt.Errorf("failed to parse profiles file: %w", err)
	}

	if storage.Profiles == nil {
		storage.Profiles = make(map[string]Profile)
	}

	return storage, nil
}

// saveStorage writes to a temporary file and renames it into place
func (fcm *FileConfigManager) saveStorage(storage profileStorage) error {
	configPath := fcm.GetConfigPath()

	data, err := json.MarshalIndent(storage, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal profiles: %w", err)
	}

	return writeFileAtomic(configPath, data)
}

func writeFileAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	return nil
}
