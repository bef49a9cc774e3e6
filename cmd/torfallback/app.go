package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nao1215/torfallback/internal/command"
	"github.com/nao1215/torfallback/internal/config"
	"github.com/nao1215/torfallback/internal/database"
	"github.com/nao1215/torfallback/internal/detect"
	applog "github.com/nao1215/torfallback/internal/log"
	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/probe"
	"github.com/nao1215/torfallback/internal/registry"
	"github.com/nao1215/torfallback/internal/session"
)

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// buildConfig creates a Config from defaults, the config file, the .env
// overlay and cobra flags, in that order of precedence (flags win).
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	var err error
	cfg.ConfigFilePath, err = flags.GetString("config")
	if err != nil {
		return nil, err
	}

	// If user explicitly specified a config file path, error if not found.
	// If no path specified, silently use defaults if no file found.
	if path := config.FindConfigFile(cfg.ConfigFilePath); path != "" {
		file, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		file.Apply(cfg)
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	cfg.EnvFilePath, err = flags.GetString("env-file")
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if flags.Changed("socks-host") {
		if cfg.SOCKSHost, err = flags.GetString("socks-host"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("socks-port") {
		if cfg.SOCKSPort, err = flags.GetInt("socks-port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("control-port") {
		if cfg.ControlPort, err = flags.GetInt("control-port"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("probe-endpoint") {
		if cfg.ProbeEndpoint, err = flags.GetString("probe-endpoint"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("probe-timeout") {
		if cfg.ProbeTimeout, err = flags.GetDuration("probe-timeout"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("db-dir") {
		if cfg.DBDir, err = flags.GetString("db-dir"); err != nil {
			return nil, err
		}
	}

	noJournal, err := flags.GetBool("no-journal")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noJournal

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	cfg.Verbose = getVerboseFlag(cmd)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// setupLogger creates the redacting structured logger.
func setupLogger(w io.Writer, verbose bool) *slog.Logger {
	return applog.NewSecureLogger(w, verbose)
}

// app holds the components shared by every session of one process.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	journal  *database.Journal
	registry *registry.Registry
	prober   *probe.Prober
	detector *detect.Detector
}

// newApp opens the journal (when enabled), registers the configured
// proxies and builds the prober and detector. probeOpts are applied after
// the configured probe settings.
func newApp(cfg *config.Config, logger *slog.Logger, probeOpts ...probe.Option) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	var regOpts []registry.Option
	if cfg.SaveToDB {
		journal, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.journal = journal
		logger.Debug("journal opened", "path", journal.Path())
		regOpts = append(regOpts, registry.WithStatusHook(a.recordStatusChange))
	}

	a.registry = registry.New(regOpts...)
	for _, p := range cfg.Seed() {
		if err := a.registry.Register(p); err != nil {
			_ = a.Close() //nolint:errcheck // Best effort cleanup
			return nil, fmt.Errorf("failed to register proxy %q: %w", p.ID, err)
		}
	}

	a.prober = probe.New(append([]probe.Option{
		probe.WithEndpoint(cfg.ProbeEndpoint),
		probe.WithTimeout(cfg.ProbeTimeout),
		probe.WithLogger(logger),
	}, probeOpts...)...)
	a.detector = detect.New(
		detect.WithSignatures(cfg.BlockSignatures...),
		detect.WithStatusCodes(cfg.BlockStatusCodes...),
	)
	return a, nil
}

// recordStatusChange journals registry transitions.
func (a *app) recordStatusChange(p model.Proxy, previous model.ProxyStatus) {
	if err := a.journal.RecordStatusChange(context.Background(), p, previous); err != nil {
		a.logger.Warn("failed to journal status change", "proxy", p.ID, "error", err)
	}
}

// newController creates the session controller of one chat channel.
func (a *app) newController(channel string) *session.Controller {
	opts := []session.Option{
		session.WithLogger(a.logger.With("channel", channel)),
		session.WithTransientRetryLimit(a.cfg.TransientRetryLimit),
		session.WithProxySwitchLimit(a.cfg.ProxySwitchLimit),
		session.WithBackoff(a.cfg.Backoff),
		session.WithRequestTimeout(a.cfg.RequestTimeout),
		session.WithControlPort(a.cfg.ControlPort, a.cfg.ControlPassword),
	}
	if a.journal != nil {
		opts = append(opts, session.WithJournal(a.journal))
	}
	return session.New(a.registry, a.prober, a.detector, opts...)
}

// dispatcher returns a command dispatcher over this app.
func (a *app) dispatcher() *command.Dispatcher {
	return command.New(a.newController,
		command.WithFormat(a.cfg.ReportFormat()),
		command.WithLogger(a.logger),
	)
}

// Close releases the journal.
func (a *app) Close() error {
	if a.journal == nil {
		return nil
	}
	return a.journal.Close()
}

// errCommandFailed is returned by one-shot commands whose reply was not OK.
// The reply itself has already been printed.
var errCommandFailed = errors.New("command failed")

// runOnce dispatches a single command line and prints the reply.
func runOnce(ctx context.Context, cmd *cobra.Command, line string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Verbose)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	reply := a.dispatcher().Dispatch(ctx, "cli", line)
	fmt.Fprintln(cmd.OutOrStdout(), reply.Text)
	if !reply.OK() {
		return fmt.Errorf("%w: %s (exit code %d)", errCommandFailed, line, reply.Code)
	}
	return nil
}
