package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PIN.Length != 4 {
		t.Errorf("expected default pin length 4, got %d", cfg.PIN.Length)
	}
	if cfg.Blink.Threshold != 0.25 {
		t.Errorf("expected default blink threshold 0.25, got %f", cfg.Blink.Threshold)
	}
	if cfg.Token.TTL != 30*time.Second {
		t.Errorf("expected default token ttl 30s, got %s", cfg.Token.TTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "faceteller.yaml")

	content := `
server:
  addr: ":8080"
  workers: 2
recognition:
  tolerance: 0.4
blink:
  threshold: 0.21
  min_consec_frames: 3
  debounce: 900ms
pin:
  cycle_delay: 2s
token:
  ttl: 45s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr not loaded, got %s", cfg.Server.Addr)
	}
	if cfg.Blink.MinConsecFrames != 3 {
		t.Errorf("min_consec_frames not loaded, got %d", cfg.Blink.MinConsecFrames)
	}
	if cfg.Blink.Debounce != 900*time.Millisecond {
		t.Errorf("debounce not loaded, got %s", cfg.Blink.Debounce)
	}
	// Unset keys keep their defaults.
	if cfg.PIN.Length != 4 {
		t.Errorf("expected default pin length 4, got %d", cfg.PIN.Length)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("expected error for missing file")
	}
	if cfg == nil {
		t.Error("expected defaults back even on error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "zero workers", mutate: func(c *Config) { c.Server.Workers = 0 }, wantErr: true},
		{name: "tolerance too high", mutate: func(c *Config) { c.Recognition.Tolerance = 1.5 }, wantErr: true},
		{name: "zero blink threshold", mutate: func(c *Config) { c.Blink.Threshold = 0 }, wantErr: true},
		{name: "negative min frames", mutate: func(c *Config) { c.Blink.MinConsecFrames = -1 }, wantErr: true},
		{name: "zero pin length", mutate: func(c *Config) { c.PIN.Length = 0 }, wantErr: true},
		{name: "zero cycle delay", mutate: func(c *Config) { c.PIN.CycleDelay = 0 }, wantErr: true},
		{name: "zero token ttl", mutate: func(c *Config) { c.Token.TTL = 0 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	if _, err := os.Stat(cfg.KnownFacesDir()); os.IsNotExist(err) {
		t.Error("known faces directory was not created")
	}
}

func TestExpandPath(t *testing.T) {
	t.Setenv("FT_TEST_DIR", "/tmp/ftdir")
	if got := ExpandPath("$FT_TEST_DIR/models"); got != "/tmp/ftdir/models" {
		t.Errorf("env expansion failed, got %s", got)
	}
}
