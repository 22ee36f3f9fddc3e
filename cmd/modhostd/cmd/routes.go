package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type routeInfo struct {
	Domain   string   `json:"domain" yaml:"domain"`
	Path     string   `json:"path" yaml:"path"`
	Mode     string   `json:"mode" yaml:"mode"`
	Function string   `json:"function" yaml:"function"`
	Module   string   `json:"module" yaml:"module"`
	Auth     string   `json:"auth,omitempty" yaml:"auth,omitempty"`
	Params   []string `json:"params,omitempty" yaml:"params,omitempty"`
}

// NewRoutesCommand creates the routes command.
func NewRoutesCommand(flags *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "List the handler table of every domain",
		Long: `Load the configuration and print each domain's handlers in match order,
with the module that exports each handler function.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, _, err := buildOffline(flags.configPath)
			if reg != nil {
				defer reg.UnloadAll()
			}
			if err != nil {
				return err
			}

			var routes []routeInfo
			for _, d := range reg.HandlerSnapshot() {
				for _, h := range d.Handlers {
					routes = append(routes, routeInfo{
						Domain:   h.Domain,
						Path:     h.Path,
						Mode:     h.Mode.String(),
						Function: h.Function,
						Module:   h.Module,
						Auth:     h.Auth,
						Params:   h.Params,
					})
				}
			}

			out := cmd.OutOrStdout()
			switch output {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(routes)
			case "yaml":
				return yaml.NewEncoder(out).Encode(routes)
			case "table", "":
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DOMAIN\tPATH\tMODE\tFUNCTION\tMODULE\tAUTH")
				for _, r := range routes {
					auth := r.Auth
					if auth == "" {
						auth = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Domain, r.Path, r.Mode, r.Function, r.Module, auth)
				}
				return tw.Flush()
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	return cmd
}
