package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables read by ApplyEnv.
const (
	EnvControlPassword = "TORFALLBACK_CONTROL_PASSWORD"
	EnvSOCKSHost       = "TORFALLBACK_SOCKS_HOST"
	EnvSOCKSPort       = "TORFALLBACK_SOCKS_PORT"
	EnvControlPort     = "TORFALLBACK_CONTROL_PORT"
	EnvProbeEndpoint   = "TORFALLBACK_PROBE_ENDPOINT"
	EnvProbeTimeout    = "TORFALLBACK_PROBE_TIMEOUT_SECONDS"
	EnvDBDir           = "TORFALLBACK_DB_DIR"
)

// DefaultEnvFile is read when no .env path is configured.
const DefaultEnvFile = ".env"

// ApplyEnv overlays values from the .env file at c.EnvFilePath (or ./.env)
// and the process environment onto c. Process variables win over the file.
// A missing default .env file is not an error; a missing explicit one is.
//
// The file is parsed with godotenv.Read, so the process environment is
// left untouched.
func (c *Config) ApplyEnv() error {
	path := c.EnvFilePath
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	fileValues := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		values, err := godotenv.Read(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		fileValues = values
	} else if explicit {
		return fmt.Errorf("env file %s: %w", path, err)
	}

	return c.applyLookup(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileValues[key]
		return v, ok
	})
}

// applyLookup sets fields from lookup, which reports whether a key is set.
func (c *Config) applyLookup(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvControlPassword); ok {
		c.ControlPassword = v
	}
	if v, ok := lookup(EnvSOCKSHost); ok && v != "" {
		c.SOCKSHost = v
	}
	if v, ok := lookup(EnvProbeEndpoint); ok && v != "" {
		c.ProbeEndpoint = v
	}
	if v, ok := lookup(EnvDBDir); ok && v != "" {
		c.DBDir = v
	}

	ints := []struct {
		key string
		set func(int)
	}{
		{EnvSOCKSPort, func(n int) { c.SOCKSPort = n }},
		{EnvControlPort, func(n int) { c.ControlPort = n }},
		{EnvProbeTimeout, func(n int) { c.ProbeTimeout = time.Duration(n) * time.Second }},
	}
	for _, item := range ints {
		v, ok := lookup(item.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidEnvValue, item.key, v)
		}
		item.set(n)
	}
	return nil
}
