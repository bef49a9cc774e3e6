package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/report"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "torfallback"

	// DefaultSOCKSHost is where the local Tor daemon listens.
	// We use 127.0.0.1 instead of localhost to avoid IPv6 resolution surprises.
	DefaultSOCKSHost = "127.0.0.1"

	// DefaultSOCKSPort is Tor's default SocksPort.
	DefaultSOCKSPort = 9050

	// DefaultControlPort is Tor's default ControlPort.
	DefaultControlPort = 9051

	// DefaultTransientRetryLimit is how often a network failure is retried on
	// the same proxy before the operation fails.
	DefaultTransientRetryLimit = 3

	// MaxTransientRetryLimit is the largest accepted transient retry limit.
	MaxTransientRetryLimit = 10

	// DefaultProxySwitchLimit is how many consecutive blocks end a session.
	DefaultProxySwitchLimit = 5

	// DefaultProbeTimeout is the hard limit for one reachability probe.
	// Tor circuits can take several seconds to build.
	DefaultProbeTimeout = 10 * time.Second

	// DefaultRequestTimeout bounds one target-service request.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultBackoff is the first transient retry delay; it doubles per retry.
	DefaultBackoff = 500 * time.Millisecond

	// MaxBackoff is the largest accepted first retry delay.
	MaxBackoff = 30 * time.Second

	// DefaultProbeEndpoint returns the caller's address as JSON.
	DefaultProbeEndpoint = "http://httpbin.org/ip"

	// DefaultBlockSignature is what the target service answers for a blocked address.
	DefaultBlockSignature = "Username and password invalid"

	// DirectProxyID and TorProxyID name the two seed entries.
	DirectProxyID = "direct"
	TorProxyID    = "tor"
)

// Config holds all configuration options for torfallback.
// It is populated from defaults, the config file, the environment and CLI
// flags, then passed down explicitly.
type Config struct {
	// SOCKSHost and SOCKSPort locate the seed Tor SOCKS5 proxy.
	SOCKSHost string
	SOCKSPort int

	// ControlPort is the Tor control port on SOCKSHost, used to request
	// new circuits.
	ControlPort int

	// ControlPassword authenticates to the control port. Empty selects
	// null authentication. Usually supplied through the environment.
	ControlPassword string

	// TransientRetryLimit is how many times a transient failure is retried
	// on the same proxy.
	TransientRetryLimit int

	// ProxySwitchLimit is how many consecutive blocks a session tolerates.
	ProxySwitchLimit int

	// ProbeTimeout bounds one reachability probe.
	ProbeTimeout time.Duration

	// RequestTimeout bounds one target-service request.
	RequestTimeout time.Duration

	// Backoff is the first transient retry delay.
	Backoff time.Duration

	// ProbeEndpoint is the known-good URL probes request through proxies.
	ProbeEndpoint string

	// BlockSignatures are response body substrings that mean "blocked".
	BlockSignatures []string

	// BlockStatusCodes are HTTP status codes that mean "blocked".
	BlockStatusCodes []int

	// Proxies are registered after the direct and tor seed entries.
	Proxies []ProxyConfig

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the explicit configuration file path, if any.
	ConfigFilePath string

	// EnvFilePath is the .env file read for secrets. Empty means ".env" in
	// the current directory, if present.
	EnvFilePath string

	// DBDir is the directory of the SQLite journal.
	DBDir string

	// SaveToDB enables the journal.
	SaveToDB bool

	// JSONReport and MarkdownReport select the output format of the
	// one-shot commands. They are mutually exclusive.
	JSONReport     bool
	MarkdownReport bool
}

// NewConfig creates a new Config with default values.
func NewConfig() *Config {
	return &Config{
		SOCKSHost:           DefaultSOCKSHost,
		SOCKSPort:           DefaultSOCKSPort,
		ControlPort:         DefaultControlPort,
		TransientRetryLimit: DefaultTransientRetryLimit,
		ProxySwitchLimit:    DefaultProxySwitchLimit,
		ProbeTimeout:        DefaultProbeTimeout,
		RequestTimeout:      DefaultRequestTimeout,
		Backoff:             DefaultBackoff,
		ProbeEndpoint:       DefaultProbeEndpoint,
		BlockSignatures:     []string{DefaultBlockSignature},
		DBDir:               XDGDataDir(),
		SaveToDB:            true,
	}
}

// XDGDataDir returns the XDG data directory for torfallback.
// On Linux: ~/.local/share/torfallback
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for torfallback.
// On Linux: ~/.config/torfallback
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// Validate checks if the configuration is valid.
// It returns the first problem found.
func (c *Config) Validate() error {
	if c.SOCKSHost == "" {
		return ErrInvalidSOCKSHost
	}
	if !validPort(c.SOCKSPort) {
		return fmt.Errorf("%w: socksPort %d", ErrInvalidPort, c.SOCKSPort)
	}
	if !validPort(c.ControlPort) {
		return fmt.Errorf("%w: controlPort %d", ErrInvalidPort, c.ControlPort)
	}
	if c.TransientRetryLimit < 0 || c.TransientRetryLimit > MaxTransientRetryLimit {
		return fmt.Errorf("%w: %d", ErrInvalidTransientRetryLimit, c.TransientRetryLimit)
	}
	if c.ProxySwitchLimit <= 0 {
		return ErrInvalidProxySwitchLimit
	}
	if c.ProbeTimeout <= 0 || c.RequestTimeout <= 0 {
		return ErrInvalidTimeout
	}
	if c.Backoff < 0 || c.Backoff > MaxBackoff {
		return fmt.Errorf("%w: %s", ErrInvalidBackoff, c.Backoff)
	}
	if u, err := url.Parse(c.ProbeEndpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidProbeEndpoint, c.ProbeEndpoint)
	}
	if len(c.BlockSignatures) == 0 && len(c.BlockStatusCodes) == 0 {
		return ErrNoBlockSignature
	}
	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// ReportFormat returns the output format selected by the report flags.
func (c *Config) ReportFormat() report.Format {
	switch {
	case c.JSONReport:
		return report.FormatJSON
	case c.MarkdownReport:
		return report.FormatMarkdown
	default:
		return report.FormatText
	}
}

// Seed returns the proxies to register, in order: the direct path, the
// local Tor SOCKS5 proxy, then the configured extras. Entries with an
// empty kind default to socks5.
func (c *Config) Seed() []model.Proxy {
	proxies := []model.Proxy{
		{ID: DirectProxyID, Kind: model.ProxyKindDirect},
		{ID: TorProxyID, Kind: model.ProxyKindSOCKS5, Host: c.SOCKSHost, Port: c.SOCKSPort},
	}
	for _, pc := range c.Proxies {
		kind := model.ProxyKind(pc.Kind)
		if kind == "" {
			kind = model.ProxyKindSOCKS5
		}
		proxies = append(proxies, model.Proxy{ID: pc.ID, Kind: kind, Host: pc.Host, Port: pc.Port})
	}
	return proxies
}
