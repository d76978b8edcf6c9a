package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "walletlink:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "walletlink",
		Short:         "Wallet authorization and signing bridge for dApps",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("WALLETLINK_CONFIG"), "Path to the TOML config file")

	cmd.AddCommand(newServeCmd(&configPath))
	cmd.AddCommand(newRevokeAllCmd(&configPath))
	return cmd
}
