// Package config provides configuration management for FaceTeller.
// It loads configuration from YAML files with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all FaceTeller configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Blink       BlinkConfig       `yaml:"blink"`
	PIN         PINConfig         `yaml:"pin"`
	Token       TokenConfig       `yaml:"token"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds the HTTP/WebSocket server settings.
type ServerConfig struct {
	Addr          string `yaml:"addr"`
	SessionSecret string `yaml:"session_secret"`
	Workers       int    `yaml:"workers"` // concurrent biometric jobs
}

// RecognitionConfig holds face recognition settings.
type RecognitionConfig struct {
	ModelPath string  `yaml:"model_path"`
	Tolerance float64 `yaml:"tolerance"` // max embedding distance for a match
}

// BlinkConfig holds blink detection settings.
type BlinkConfig struct {
	Threshold       float64       `yaml:"threshold"`         // EAR below this counts as closed
	MinConsecFrames int           `yaml:"min_consec_frames"` // closed frames required per blink
	Debounce        time.Duration `yaml:"debounce"`          // min gap between accepted blinks
}

// PINConfig holds touchless PIN entry settings.
type PINConfig struct {
	Length      int           `yaml:"length"`
	CycleDelay  time.Duration `yaml:"cycle_delay"`
	VerifyDelay time.Duration `yaml:"verify_delay"` // UX pause before the verdict
}

// TokenConfig holds login token settings.
type TokenConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the sweeper
}

// StorageConfig holds identity storage settings.
type StorageConfig struct {
	DataDir           string `yaml:"data_dir"`
	EncryptionEnabled bool   `yaml:"encryption_enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration. Threshold defaults come
// from the reference terminal deployment and are all tunable.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    ":5000",
			Workers: 4,
		},
		Recognition: RecognitionConfig{
			ModelPath: "models",
			Tolerance: 0.55,
		},
		Blink: BlinkConfig{
			Threshold:       0.25,
			MinConsecFrames: 2,
			Debounce:        700 * time.Millisecond,
		},
		PIN: PINConfig{
			Length:      4,
			CycleDelay:  1500 * time.Millisecond,
			VerifyDelay: 500 * time.Millisecond,
		},
		Token: TokenConfig{
			TTL:           30 * time.Second,
			SweepInterval: time.Minute,
		},
		Storage: StorageConfig{
			DataDir:           "data",
			EncryptionEnabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load loads configuration from the specified file, layered over defaults.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return config, err
	}

	return config, nil
}

// LoadDefault loads configuration from the FACETELLER_CONFIG path if set,
// otherwise from faceteller.yaml in the working directory, otherwise
// returns defaults.
func LoadDefault() (*Config, error) {
	if path := os.Getenv("FACETELLER_CONFIG"); path != "" {
		return Load(path)
	}
	if _, err := os.Stat("faceteller.yaml"); err == nil {
		return Load("faceteller.yaml")
	}
	return DefaultConfig(), nil
}

// ExpandPath expands ~ and environment variables in a path.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}
	return os.ExpandEnv(path)
}

// ExpandPaths expands all paths in the configuration.
func (c *Config) ExpandPaths() {
	c.Recognition.ModelPath = ExpandPath(c.Recognition.ModelPath)
	c.Storage.DataDir = ExpandPath(c.Storage.DataDir)
	c.Logging.File = ExpandPath(c.Logging.File)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr must not be empty")
	}
	if c.Server.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Server.Workers)
	}

	if c.Recognition.Tolerance <= 0 || c.Recognition.Tolerance > 1 {
		return fmt.Errorf("tolerance must be in (0, 1], got %f", c.Recognition.Tolerance)
	}

	if c.Blink.Threshold <= 0 || c.Blink.Threshold >= 1 {
		return fmt.Errorf("blink threshold must be in (0, 1), got %f", c.Blink.Threshold)
	}
	if c.Blink.MinConsecFrames <= 0 {
		return fmt.Errorf("min_consec_frames must be positive, got %d", c.Blink.MinConsecFrames)
	}
	if c.Blink.Debounce <= 0 {
		return fmt.Errorf("blink debounce must be positive, got %s", c.Blink.Debounce)
	}

	if c.PIN.Length <= 0 {
		return fmt.Errorf("pin length must be positive, got %d", c.PIN.Length)
	}
	if c.PIN.CycleDelay <= 0 {
		return fmt.Errorf("pin cycle_delay must be positive, got %s", c.PIN.CycleDelay)
	}
	if c.PIN.VerifyDelay < 0 {
		return fmt.Errorf("pin verify_delay must not be negative, got %s", c.PIN.VerifyDelay)
	}

	if c.Token.TTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.Token.TTL)
	}
	if c.Token.SweepInterval < 0 {
		return fmt.Errorf("token sweep_interval must not be negative, got %s", c.Token.SweepInterval)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// EnsureDirectories creates the directories the server writes to.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	facesDir := filepath.Join(c.Storage.DataDir, "known_faces")
	if err := os.MkdirAll(facesDir, 0700); err != nil {
		return fmt.Errorf("failed to create known faces directory: %w", err)
	}

	if c.Logging.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.Logging.File), 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

// KnownFacesDir returns the directory holding per-user enrollment data.
func (c *Config) KnownFacesDir() string {
	return filepath.Join(c.Storage.DataDir, "known_faces")
}

// UserDataFile returns the path of the identity record file.
func (c *Config) UserDataFile() string {
	return filepath.Join(c.Storage.DataDir, "user_data.json")
}
