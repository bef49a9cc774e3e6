package config

import "errors"

// Configuration validation errors.
// These errors are returned by Config.Validate() and provide specific
// information about what is wrong with the configuration.
//
// Design decision: We use package-level sentinel errors rather than
// creating new error instances in Validate(). This allows callers to use
// errors.Is() for programmatic error handling while still providing
// human-readable messages.
var (
	// ErrInvalidSOCKSHost is returned when the Tor SOCKS host is empty.
	ErrInvalidSOCKSHost = errors.New("invalid socks host: must not be empty")

	// ErrInvalidPort is returned when the SOCKS or control port is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port: must be between 1 and 65535")

	// ErrInvalidTransientRetryLimit is returned when the transient retry limit is
	// outside 0-MaxTransientRetryLimit.
	ErrInvalidTransientRetryLimit = errors.New("invalid transient retry limit: must be between 0 and 10")

	// ErrInvalidProxySwitchLimit is returned when the proxy switch limit is not positive.
	// A limit of zero would exhaust the session on the first block.
	ErrInvalidProxySwitchLimit = errors.New("invalid proxy switch limit: must be positive")

	// ErrInvalidTimeout is returned when the probe or request timeout is not positive.
	ErrInvalidTimeout = errors.New("invalid timeout: must be positive")

	// ErrInvalidBackoff is returned when the backoff is negative or above MaxBackoff.
	ErrInvalidBackoff = errors.New("invalid backoff: must be between 0 and 30s")

	// ErrInvalidProbeEndpoint is returned when the probe endpoint is not an http(s) URL.
	ErrInvalidProbeEndpoint = errors.New("invalid probe endpoint: must be an http or https URL")

	// ErrNoBlockSignature is returned when neither block signatures nor
	// block status codes are configured, so nothing could ever be detected.
	ErrNoBlockSignature = errors.New("no block signature: configure blockSignatures or blockStatusCodes")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified. Only one output format can be used at a time.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")

	// ErrConfigNotFound is returned when the configuration file does not exist.
	ErrConfigNotFound = errors.New("configuration file not found")

	// ErrInvalidEnvValue is returned when an environment variable cannot be parsed.
	ErrInvalidEnvValue = errors.New("invalid environment value")
)
