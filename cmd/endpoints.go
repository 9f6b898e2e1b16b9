package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/viniolvs/mwfaas/internal/config"
	"github.com/viniolvs/mwfaas/pkg/backend"
	"github.com/viniolvs/mwfaas/pkg/backend/remote"
)

var endpointsProbe bool

var endpointsCmd = &cobra.Command{
	Use:     "endpoints",
	Aliases: []string{"endpoint", "ep"},
	Short:   "Manage the worker endpoint inventory",
}

var endpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured endpoints and whether they answer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if cfg.Backend.Type == config.BackendMemory {
			if err := printLocalEndpoints(cmd, cfg); err != nil {
				return err
			}
		}
		if len(cfg.Backend.Endpoints) == 0 {
			fmt.Fprintln(out, "no endpoints configured; add one with: mwfaas endpoints add <id> <url>")
			return nil
		}

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		defer tw.Flush()

		if !endpointsProbe {
			fmt.Fprintln(tw, "ID\tURL")
			for _, ep := range cfg.Backend.Endpoints {
				fmt.Fprintf(tw, "%s\t%s\n", ep.ID, ep.URL)
			}
			return nil
		}

		rb, err := remote.New(&remote.Config{
			Endpoints:      cfg.Endpoints(),
			APIKey:         cfg.Backend.APIKey,
			RequestTimeout: cfg.Backend.RequestTimeout,
			Logger:         log,
		})
		if err != nil {
			return err
		}
		defer rb.Close()

		fmt.Fprintln(tw, "ID\tURL\tSTATUS\tDETAIL")
		for _, st := range rb.Status(cmd.Context()) {
			status, detail := "online", ""
			switch {
			case st.Unauthorized:
				status = "unauthorized"
			case !st.Online:
				status = "offline"
			}
			if st.Err != nil {
				detail = st.Err.Error()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", st.Endpoint.ID, st.Endpoint.Address, status, detail)
		}
		return nil
	},
}

var endpointsAddCmd = &cobra.Command{
	Use:     "add <id> <url>",
	Short:   "Add an endpoint to the inventory",
	Example: `  mwfaas endpoints add w0 http://10.0.0.5:8090`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(cmd, func(cfg *config.Config) error {
			return cfg.AddEndpoint(args[0], args[1])
		}, "added endpoint %s", args[0])
	},
}

var endpointsRemoveCmd = &cobra.Command{
	Use:     "remove <id>",
	Aliases: []string{"rm"},
	Short:   "Remove an endpoint from the inventory",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateConfig(cmd, func(cfg *config.Config) error {
			return cfg.RemoveEndpoint(args[0])
		}, "removed endpoint %s", args[0])
	},
}

func init() {
	rootCmd.AddCommand(endpointsCmd)
	endpointsCmd.AddCommand(endpointsListCmd, endpointsAddCmd, endpointsRemoveCmd)

	endpointsListCmd.Flags().BoolVarP(&endpointsProbe, "probe", "p", false, "check whether each endpoint answers")
}

// printLocalEndpoints lists the endpoints of the in-process backend.
func printLocalEndpoints(cmd *cobra.Command, cfg *config.Config) error {
	be, err := cfg.NewBackend(log)
	if err != nil {
		return err
	}
	defer be.Close()

	eps, err := be.ListEndpoints(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if mem, ok := be.(*backend.Memory); ok {
		fmt.Fprintf(out, "backend %s, target parallelism %d\n", be.Name(), mem.PoolSize())
	}
	for _, ep := range eps {
		fmt.Fprintf(out, "  %s\n", ep.ID)
	}
	fmt.Fprintln(out)
	return nil
}

// updateConfig loads the config file, applies change and saves it back.
// Environment overrides are not written to the file.
func updateConfig(cmd *cobra.Command, change func(*config.Config) error, format string, args ...any) error {
	path := configPath()
	cfg, err := config.ReadFile(path)
	if err != nil {
		return err
	}
	if err := change(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", path)
	return nil
}
