package main

import (
	"github.com/spf13/cobra"

	"github.com/layer-3/walletlink/config"
	"github.com/layer-3/walletlink/logging"
	"github.com/layer-3/walletlink/service"
)

func newRevokeAllCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-all",
		Short: "Revoke every stored dApp authorization",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogPretty)

			be, err := openBackend(cmd.Context(), cfg, logging.NewWatermillLogger(logger))
			if err != nil {
				return err
			}
			defer be.Close()
			defer be.publisher.Close()
			defer be.subscriber.Close()

			if err := service.NewAuthorizationStore(be.storage).RevokeAll(cmd.Context()); err != nil {
				return err
			}
			logger.Info().Msg("all authorizations revoked")
			return nil
		},
	}
}
