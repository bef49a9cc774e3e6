// Package config provides configuration structures and utilities for
// torfallback. It defines the proxy seed, failover limits, probe settings
// and the sources they are read from: defaults, a YAML file, a .env file
// and environment variables, in increasing precedence. CLI flags are
// applied last by the cmd package.
package config
