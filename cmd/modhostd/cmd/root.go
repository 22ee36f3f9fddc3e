// Package cmd implements the modhostd command line.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version information, set at build time with -ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// OsExit is replaced in tests.
var OsExit = os.Exit

var ErrInvalidLogFormat = errors.New("invalid log format")

type globalFlags struct {
	configPath string
	logFormat  string
	logLevel   string
}

// NewRootCommand creates the root command for modhostd.
func NewRootCommand() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "modhostd",
		Short: "modhostd - serve hot-reloadable native and Starlark handler modules",
		Long: `modhostd loads handler modules (Go plugins and Starlark scripts), routes
HTTP requests to their functions by virtual host and path, and reloads
modules in place when their files change.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "modhost.yaml", "configuration file (.yaml, .yml or .toml)")
	pf.StringVar(&flags.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(NewServeCommand(flags))
	cmd.AddCommand(NewCheckCommand(flags))
	cmd.AddCommand(NewRoutesCommand(flags))
	cmd.AddCommand(NewConfigCommand())
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

// NewVersionCommand prints version information.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	}
}

// PrintVersion returns version information.
func PrintVersion() string {
	return fmt.Sprintf("modhostd v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidLogFormat, format)
	}
}
