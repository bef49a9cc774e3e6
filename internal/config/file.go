package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file name searched in the
// current and home directories.
const DefaultConfigFile = ".torfallback"

// XDGConfigFile is the configuration file name inside XDGConfigDir.
const XDGConfigFile = "config.yaml"

// ProxyConfig is one extra proxy entry in the configuration file.
type ProxyConfig struct {
	// ID is the identifier used by testproxy and in replies.
	ID string `yaml:"id"`

	// Kind is "socks5" (default) or "direct".
	Kind string `yaml:"kind,omitempty"`

	// Host and Port locate the proxy.
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// File represents the structure of the .torfallback configuration file.
// Pointer fields distinguish "not set" from an explicit zero.
type File struct {
	SOCKSHost           string        `yaml:"socksHost,omitempty"`
	SOCKSPort           *int          `yaml:"socksPort,omitempty"`
	ControlPort         *int          `yaml:"controlPort,omitempty"`
	ControlPassword     string        `yaml:"controlPassword,omitempty"`
	TransientRetryLimit *int          `yaml:"transientRetryLimit,omitempty"`
	ProxySwitchLimit    *int          `yaml:"proxySwitchLimit,omitempty"`
	ProbeTimeoutSeconds *int          `yaml:"probeTimeoutSeconds,omitempty"`
	RequestTimeoutSecs  *int          `yaml:"requestTimeoutSeconds,omitempty"`
	BackoffMillis       *int          `yaml:"backoffMillis,omitempty"`
	ProbeEndpoint       string        `yaml:"probeEndpoint,omitempty"`
	BlockSignatures     []string      `yaml:"blockSignatures,omitempty"`
	BlockStatusCodes    []int         `yaml:"blockStatusCodes,omitempty"`
	Proxies             []ProxyConfig `yaml:"proxies,omitempty"`
	DBDir               string        `yaml:"dbDir,omitempty"`
}

// LoadConfigFile loads a YAML configuration file.
// If the file does not exist, it returns ErrConfigNotFound.
func LoadConfigFile(path string) (*File, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}

	var cf File
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, err
	}
	return &cf, nil
}

// Apply copies every value set in the file onto c.
func (cf *File) Apply(c *Config) {
	if cf.SOCKSHost != "" {
		c.SOCKSHost = cf.SOCKSHost
	}
	if cf.SOCKSPort != nil {
		c.SOCKSPort = *cf.SOCKSPort
	}
	if cf.ControlPort != nil {
		c.ControlPort = *cf.ControlPort
	}
	if cf.ControlPassword != "" {
		c.ControlPassword = cf.ControlPassword
	}
	if cf.TransientRetryLimit != nil {
		c.TransientRetryLimit = *cf.TransientRetryLimit
	}
	if cf.ProxySwitchLimit != nil {
		c.ProxySwitchLimit = *cf.ProxySwitchLimit
	}
	if cf.ProbeTimeoutSeconds != nil {
		c.ProbeTimeout = time.Duration(*cf.ProbeTimeoutSeconds) * time.Second
	}
	if cf.RequestTimeoutSecs != nil {
		c.RequestTimeout = time.Duration(*cf.RequestTimeoutSecs) * time.Second
	}
	if cf.BackoffMillis != nil {
		c.Backoff = time.Duration(*cf.BackoffMillis) * time.Millisecond
	}
	if cf.ProbeEndpoint != "" {
		c.ProbeEndpoint = cf.ProbeEndpoint
	}
	if cf.BlockSignatures != nil {
		c.BlockSignatures = cf.BlockSignatures
	}
	if cf.BlockStatusCodes != nil {
		c.BlockStatusCodes = cf.BlockStatusCodes
	}
	if len(cf.Proxies) > 0 {
		c.Proxies = append(c.Proxies, cf.Proxies...)
	}
	if cf.DBDir != "" {
		c.DBDir = cf.DBDir
	}
}

// FindConfigFile searches for the configuration file in the following order:
// 1. If configPath is specified, use it directly
// 2. Look for .torfallback in the current directory
// 3. Look for .torfallback in the user's home directory
// 4. Look for config.yaml in the XDG config directory
//
// Returns the path to the configuration file if found, or empty string if not found.
func FindConfigFile(configPath string) string {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		return ""
	}

	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, DefaultConfigFile))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, DefaultConfigFile))
	}
	candidates = append(candidates, filepath.Join(XDGConfigDir(), XDGConfigFile))

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}
