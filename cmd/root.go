// Package cmd implements the mwfaas command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/viniolvs/mwfaas/internal/config"
	"github.com/viniolvs/mwfaas/internal/logger"
)

const (
	// Version is the current version.
	Version = "0.1.0"
	// Banner is printed by --version.
	Banner = `
  _ __ _____      __/ _| __ _  __ _ ___
 | '_ ` + "`" + ` _ \ \ /\ / / |_ / _` + "`" + ` |/ _` + "`" + ` / __|
 | | | | | \ V  V /|  _| (_| | (_| \__ \
 |_| |_| |_|\_/\_/ |_|  \__,_|\__,_|___/ %s
`
)

var (
	cfgFile string
	debug   bool
	quiet   bool

	// log is built from the loaded configuration before each command runs.
	log = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "mwfaas",
	Short: "Master-worker execution of functions over partitioned data",
	Long: `mwfaas splits input data into chunks, runs a function on every chunk
across remote worker endpoints and collects the results in chunk order.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.mwfaas/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log errors")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")
}

// GetRootCmd returns the root command, for tests.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// configPath returns the --config value or the default location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultPath()
}

// loadConfig loads the configuration with the given dot-path overrides,
// validates it and sets up logging.
func loadConfig(overrides map[string]string) (*config.Config, error) {
	cfg, err := config.NewLoader().
		WithConfigPath(configPath()).
		WithCmdArgs(overrides).
		Load()
	if err != nil {
		return nil, err
	}

	switch {
	case debug:
		cfg.Logging.Level = "debug"
	case quiet:
		cfg.Logging.Level = "error"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = logger.New(&cfg.Logging)
	logger.Init(&cfg.Logging)
	return cfg, nil
}
