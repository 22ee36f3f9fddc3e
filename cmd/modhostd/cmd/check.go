package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modhost"
	"github.com/GoCodeAlone/modhost/config"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and load every module once",
		Long: `Validate the configuration file, then load every module, resolve every
handler function, validator and authorization policy exactly as serve
would, without running onload hooks or listening.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, cfg, err := buildOffline(flags.configPath)
			if reg != nil {
				defer reg.UnloadAll()
			}
			if err != nil {
				return err
			}
			domains := reg.HandlerSnapshot()
			handlers := 0
			for _, d := range domains {
				handlers += len(d.Handlers)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d modules, %d domains, %d handlers)\n",
				flags.configPath, len(cfg.Modules), len(domains), handlers)
			return nil
		},
	}
}

// buildOffline loads the configuration and applies it to a fresh registry.
// Fatal registry errors are returned instead of ending the process.
func buildOffline(path string) (*modhost.Registry, *config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := newRegistry(cfg, logger, modhost.WithFatalHandler(func(*modhost.FatalError) {}))
	if err := config.Apply(cfg, reg); err != nil {
		return reg, cfg, err
	}
	return reg, cfg, nil
}
