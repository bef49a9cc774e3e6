package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/torfallback/internal/config"
)

//go:embed templates/torfallback.yaml
var configTemplate embed.FS

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new torfallback configuration file",
		Long: `Initialize creates a new .torfallback configuration file in the current directory.

The generated file includes:
- The Tor SOCKS and control port settings
- Retry limits, timeouts and the probe endpoint
- The block signatures that trigger a failover
- Commented examples for extra proxies

Examples:
  # Create .torfallback in current directory
  torfallback init

  # Create config file at a specific path
  torfallback init -o ~/.config/torfallback/config.yaml

  # Force overwrite existing file
  torfallback init -f`,
		Args: cobra.NoArgs,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", config.DefaultConfigFile,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile("templates/torfallback.yaml")
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// 0600: the file may later hold the control port password.
	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to configure:")
	fmt.Fprintln(out, "  - The Tor SOCKS and control ports")
	fmt.Fprintln(out, "  - Block signatures of your target service")
	fmt.Fprintln(out, "  - Extra fallback proxies")
	fmt.Fprintf(out, "\nPut the control port password in %s as %s.\n", config.DefaultEnvFile, config.EnvControlPassword)

	return nil
}
