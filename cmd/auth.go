package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/viniolvs/mwfaas/internal/config"
	"github.com/viniolvs/mwfaas/pkg/backend/remote"
)

var (
	authAPIKey string
	authVerify bool
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the API key used with worker endpoints",
}

var authLoginCmd = &cobra.Command{
	Use:     "login",
	Short:   "Store the API key",
	Example: `  mwfaas auth login --api-key secret --verify`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if authVerify {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}
			rb, err := remote.New(&remote.Config{
				Endpoints:      cfg.Endpoints(),
				APIKey:         authAPIKey,
				RequestTimeout: cfg.Backend.RequestTimeout,
				Logger:         log,
			})
			if err != nil {
				return err
			}
			defer rb.Close()
			if err := rb.Authenticate(cmd.Context()); err != nil {
				return err
			}
		}
		return updateConfig(cmd, func(cfg *config.Config) error {
			return cfg.SetAPIKey(authAPIKey)
		}, "logged in")
	},
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return updateConfig(cmd, func(cfg *config.Config) error {
			if !cfg.Authenticated() {
				return fmt.Errorf("not logged in")
			}
			cfg.ClearAPIKey()
			return nil
		}, "logged out")
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd, authLogoutCmd)

	authLoginCmd.Flags().StringVarP(&authAPIKey, "api-key", "k", "", "API key")
	authLoginCmd.Flags().BoolVar(&authVerify, "verify", false, "check the key against every configured endpoint first")
	_ = authLoginCmd.MarkFlagRequired("api-key")
}
