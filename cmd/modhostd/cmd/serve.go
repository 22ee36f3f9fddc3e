package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/modhost/config"
)

// NewServeCommand creates the serve command.
func NewServeCommand(flags *globalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load the configured modules and serve requests",
		Long: `Load every configured module, build the domains and handler tables, run
the onload hooks and serve HTTP until interrupted. Modules are reloaded
when their files change, on the configured schedule, on SIGHUP or through
the reload endpoint, depending on configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), flags.logFormat, flags.logLevel)
			if err != nil {
				return err
			}
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			d := newDaemon(cfg, logger)
			if err := d.start(ctx); err != nil {
				_ = d.stop(context.Background())
				return err
			}
			logger.Info("modhostd ready", "address", d.addr.String(), "modules", len(d.registry.Modules()))

			<-ctx.Done()
			logger.Info("Shutting down")
			return d.stop(context.Background())
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "override the configured listen address")
	return cmd
}
