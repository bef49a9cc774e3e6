package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/report"
)

// TestNewConfig tests that NewConfig returns correct default values.
func TestNewConfig(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()

	if cfg.SOCKSHost != DefaultSOCKSHost || cfg.SOCKSPort != DefaultSOCKSPort {
		t.Errorf("unexpected SOCKS address %s:%d", cfg.SOCKSHost, cfg.SOCKSPort)
	}
	if cfg.ControlPort != DefaultControlPort {
		t.Errorf("expected ControlPort %d, got %d", DefaultControlPort, cfg.ControlPort)
	}
	if cfg.TransientRetryLimit != DefaultTransientRetryLimit {
		t.Errorf("expected TransientRetryLimit %d, got %d", DefaultTransientRetryLimit, cfg.TransientRetryLimit)
	}
	if cfg.ProxySwitchLimit != DefaultProxySwitchLimit {
		t.Errorf("expected ProxySwitchLimit %d, got %d", DefaultProxySwitchLimit, cfg.ProxySwitchLimit)
	}
	if cfg.ProbeTimeout != 10*time.Second {
		t.Errorf("expected ProbeTimeout 10s, got %v", cfg.ProbeTimeout)
	}
	if len(cfg.BlockSignatures) != 1 || cfg.BlockSignatures[0] != DefaultBlockSignature {
		t.Errorf("unexpected BlockSignatures %v", cfg.BlockSignatures)
	}
	if !cfg.SaveToDB || cfg.DBDir == "" {
		t.Error("expected the journal to be enabled in the XDG data dir")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate, got %v", err)
	}
}

// TestConfigValidate tests the Validate method.
func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr error
	}{
		{"valid defaults", func(*Config) {}, nil},
		{"empty socks host", func(c *Config) { c.SOCKSHost = "" }, ErrInvalidSOCKSHost},
		{"socks port zero", func(c *Config) { c.SOCKSPort = 0 }, ErrInvalidPort},
		{"control port too large", func(c *Config) { c.ControlPort = 70000 }, ErrInvalidPort},
		{"negative retry limit", func(c *Config) { c.TransientRetryLimit = -1 }, ErrInvalidTransientRetryLimit},
		{"zero retry limit is allowed", func(c *Config) { c.TransientRetryLimit = 0 }, nil},
		{"largest retry limit is allowed", func(c *Config) { c.TransientRetryLimit = MaxTransientRetryLimit }, nil},
		{"retry limit too large", func(c *Config) { c.TransientRetryLimit = 35 }, ErrInvalidTransientRetryLimit},
		{"zero switch limit", func(c *Config) { c.ProxySwitchLimit = 0 }, ErrInvalidProxySwitchLimit},
		{"zero probe timeout", func(c *Config) { c.ProbeTimeout = 0 }, ErrInvalidTimeout},
		{"negative request timeout", func(c *Config) { c.RequestTimeout = -time.Second }, ErrInvalidTimeout},
		{"negative backoff", func(c *Config) { c.Backoff = -time.Millisecond }, ErrInvalidBackoff},
		{"backoff too large", func(c *Config) { c.Backoff = time.Hour }, ErrInvalidBackoff},
		{"non-http endpoint", func(c *Config) { c.ProbeEndpoint = "ftp://example.com/ip" }, ErrInvalidProbeEndpoint},
		{"endpoint without host", func(c *Config) { c.ProbeEndpoint = "http://" }, ErrInvalidProbeEndpoint},
		{"no signatures", func(c *Config) { c.BlockSignatures = nil }, ErrNoBlockSignature},
		{"status codes only", func(c *Config) { c.BlockSignatures = nil; c.BlockStatusCodes = []int{403} }, nil},
		{"both report formats", func(c *Config) { c.JSONReport = true; c.MarkdownReport = true }, ErrConflictingReportFormats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := NewConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestReportFormat tests output format selection.
func TestReportFormat(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	if cfg.ReportFormat() != report.FormatText {
		t.Errorf("expected text, got %s", cfg.ReportFormat())
	}
	cfg.JSONReport = true
	if cfg.ReportFormat() != report.FormatJSON {
		t.Errorf("expected json, got %s", cfg.ReportFormat())
	}
	cfg.JSONReport, cfg.MarkdownReport = false, true
	if cfg.ReportFormat() != report.FormatMarkdown {
		t.Errorf("expected markdown, got %s", cfg.ReportFormat())
	}
}

// TestSeed tests the registry seed.
func TestSeed(t *testing.T) {
	t.Parallel()

	cfg := NewConfig()
	cfg.SOCKSPort = 9150
	cfg.Proxies = []ProxyConfig{
		{ID: "tor2", Host: "10.0.0.2", Port: 9050},
		{ID: "lan", Kind: "direct"},
	}

	seed := cfg.Seed()
	expected := []model.Proxy{
		{ID: "direct", Kind: model.ProxyKindDirect},
		{ID: "tor", Kind: model.ProxyKindSOCKS5, Host: "127.0.0.1", Port: 9150},
		{ID: "tor2", Kind: model.ProxyKindSOCKS5, Host: "10.0.0.2", Port: 9050},
		{ID: "lan", Kind: model.ProxyKindDirect},
	}
	if len(seed) != len(expected) {
		t.Fatalf("expected %d proxies, got %d", len(expected), len(seed))
	}
	for i := range expected {
		if seed[i] != expected[i] {
			t.Errorf("seed[%d] = %+v, expected %+v", i, seed[i], expected[i])
		}
	}
}

// TestLoadConfigFile tests the LoadConfigFile function.
func TestLoadConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns ErrConfigNotFound for non-existent file", func(t *testing.T) {
		t.Parallel()

		cf, err := LoadConfigFile("/nonexistent/path/.torfallback")
		if !errors.Is(err, ErrConfigNotFound) {
			t.Fatalf("expected ErrConfigNotFound, got: %v", err)
		}
		if cf != nil {
			t.Error("expected nil config when file not found")
		}
	})

	t.Run("loads and applies valid YAML config", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".torfallback")
		content := `socksHost: 10.0.0.1
socksPort: 9150
controlPort: 9151
transientRetryLimit: 0
proxySwitchLimit: 2
probeTimeoutSeconds: 20
backoffMillis: 250
probeEndpoint: https://api.ipify.org?format=json
blockSignatures:
  - "Username and password invalid"
  - "Too many login attempts"
blockStatusCodes: [403, 429]
proxies:
  - id: tor2
    host: 10.0.0.2
    port: 9050
`
		if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		cf, err := LoadConfigFile(configPath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		cfg := NewConfig()
		cf.Apply(cfg)

		if cfg.SOCKSHost != "10.0.0.1" || cfg.SOCKSPort != 9150 || cfg.ControlPort != 9151 {
			t.Errorf("unexpected address settings: %+v", cfg)
		}
		if cfg.TransientRetryLimit != 0 {
			t.Errorf("explicit zero retry limit must be kept, got %d", cfg.TransientRetryLimit)
		}
		if cfg.ProxySwitchLimit != 2 {
			t.Errorf("expected ProxySwitchLimit 2, got %d", cfg.ProxySwitchLimit)
		}
		if cfg.ProbeTimeout != 20*time.Second || cfg.Backoff != 250*time.Millisecond {
			t.Errorf("unexpected durations %v %v", cfg.ProbeTimeout, cfg.Backoff)
		}
		if cfg.RequestTimeout != DefaultRequestTimeout {
			t.Errorf("unset values must keep defaults, got %v", cfg.RequestTimeout)
		}
		if len(cfg.BlockSignatures) != 2 || len(cfg.BlockStatusCodes) != 2 {
			t.Errorf("unexpected signatures %v / %v", cfg.BlockSignatures, cfg.BlockStatusCodes)
		}
		if len(cfg.Proxies) != 1 || cfg.Proxies[0].ID != "tor2" {
			t.Errorf("unexpected proxies %+v", cfg.Proxies)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("loaded config must validate: %v", err)
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), ".torfallback")
		if err := os.WriteFile(configPath, []byte(`invalid: yaml: content: [}`), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if _, err := LoadConfigFile(configPath); err == nil {
			t.Error("expected error for invalid YAML")
		}
	})
}

// TestFindConfigFile tests the FindConfigFile function.
func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	t.Run("returns explicit path if exists", func(t *testing.T) {
		t.Parallel()

		configPath := filepath.Join(t.TempDir(), "custom.yaml")
		if err := os.WriteFile(configPath, []byte("socksPort: 9050\n"), 0600); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
		if got := FindConfigFile(configPath); got != configPath {
			t.Errorf("expected %q, got %q", configPath, got)
		}
	})

	t.Run("returns empty for non-existent explicit path", func(t *testing.T) {
		t.Parallel()

		if got := FindConfigFile("/nonexistent/path/config.yaml"); got != "" {
			t.Errorf("expected empty string, got %q", got)
		}
	})
}

// TestApplyLookup tests environment overlay parsing.
func TestApplyLookup(t *testing.T) {
	t.Parallel()

	lookup := func(values map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		}
	}

	t.Run("sets values", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		err := cfg.applyLookup(lookup(map[string]string{
			EnvControlPassword: "s3cret",
			EnvSOCKSHost:       "10.1.1.1",
			EnvSOCKSPort:       "9150",
			EnvControlPort:     "9151",
			EnvProbeTimeout:    "5",
			EnvProbeEndpoint:   "http://example.test/ip",
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.ControlPassword != "s3cret" || cfg.SOCKSHost != "10.1.1.1" || cfg.SOCKSPort != 9150 ||
			cfg.ControlPort != 9151 || cfg.ProbeTimeout != 5*time.Second || cfg.ProbeEndpoint != "http://example.test/ip" {
			t.Errorf("unexpected config %+v", cfg)
		}
	})

	t.Run("rejects non-numeric ports", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		err := cfg.applyLookup(lookup(map[string]string{EnvSOCKSPort: "ninety"}))
		if !errors.Is(err, ErrInvalidEnvValue) {
			t.Errorf("expected ErrInvalidEnvValue, got %v", err)
		}
	})

	t.Run("empty values keep defaults", func(t *testing.T) {
		t.Parallel()

		cfg := NewConfig()
		if err := cfg.applyLookup(lookup(map[string]string{EnvSOCKSHost: "", EnvSOCKSPort: ""})); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.SOCKSHost != DefaultSOCKSHost || cfg.SOCKSPort != DefaultSOCKSPort {
			t.Errorf("defaults changed: %s:%d", cfg.SOCKSHost, cfg.SOCKSPort)
		}
	})
}

// TestApplyEnv tests reading the .env file. It sets process environment
// variables, so it does not run in parallel.
func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "torfallback.env")
	content := "TORFALLBACK_CONTROL_PASSWORD=from-file\nTORFALLBACK_CONTROL_PORT=9151\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	t.Setenv(EnvControlPort, "9251")

	cfg := NewConfig()
	cfg.EnvFilePath = envPath
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() failed: %v", err)
	}
	if cfg.ControlPassword != "from-file" {
		t.Errorf("expected password from file, got %q", cfg.ControlPassword)
	}
	if cfg.ControlPort != 9251 {
		t.Errorf("process environment must win, got %d", cfg.ControlPort)
	}
	if _, ok := os.LookupEnv(EnvControlPassword); ok {
		t.Error("ApplyEnv must not modify the process environment")
	}

	missing := NewConfig()
	missing.EnvFilePath = filepath.Join(dir, "missing.env")
	if err := missing.ApplyEnv(); err == nil {
		t.Error("expected error for a missing explicit env file")
	}
}

// TestXDGDirs tests XDG directory functions.
func TestXDGDirs(t *testing.T) {
	t.Parallel()

	if XDGDataDir() == "" {
		t.Error("expected non-empty XDG data dir")
	}
	if XDGConfigDir() == "" {
		t.Error("expected non-empty XDG config dir")
	}
}
