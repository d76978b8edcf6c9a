package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/layer-3/walletlink/adapters/browser"
	"github.com/layer-3/walletlink/adapters/bus"
	"github.com/layer-3/walletlink/adapters/chain"
	"github.com/layer-3/walletlink/adapters/events"
	"github.com/layer-3/walletlink/adapters/signer"
	"github.com/layer-3/walletlink/adapters/tokenizer"
	"github.com/layer-3/walletlink/config"
	"github.com/layer-3/walletlink/consent"
	"github.com/layer-3/walletlink/logging"
	"github.com/layer-3/walletlink/router"
	"github.com/layer-3/walletlink/service"
	"github.com/layer-3/walletlink/session"
	"github.com/layer-3/walletlink/surface"
	httpapi "github.com/layer-3/walletlink/transport/http"
	"github.com/layer-3/walletlink/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the page bridge, message router and consent API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogPretty)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg, logger); err != nil {
				logger.Error().Err(err).Msg("walletlink stopped")
				return err
			}
			return nil
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	be, err := openBackend(ctx, cfg, logging.NewWatermillLogger(logger))
	if err != nil {
		return err
	}
	defer be.Close()

	messages := bus.NewWatermillBus(be.publisher, be.subscriber)
	defer messages.Close()

	auths := service.NewAuthorizationStore(be.storage, service.WithEvents(events.NewWatermillPublisher(be.publisher)))

	dir := session.NewDirectory(be.storage, session.WithAuthorizations(auths))
	if err := dir.Load(ctx); err != nil {
		return fmt.Errorf("failed to load session state: %w", err)
	}
	unwatch := dir.Watch(ctx, be.storage)
	defer unwatch()

	receiptKey, err := loadReceiptKey(cfg.ReceiptKeyFile)
	if err != nil {
		return err
	}
	if cfg.ReceiptKeyFile == "" {
		logger.Warn().Msg("no receipt_key_file set, using an ephemeral receipt key")
	}
	receipts := tokenizer.NewJWTTokenizer(receiptKey)

	rpcURL := cfg.RPCURL
	if saved := dir.RPC(); saved != "" {
		rpcURL = saved
	}
	node, err := chain.DialRPC(ctx, rpcURL)
	if err != nil {
		return err
	}
	defer node.Close()

	balances, err := chain.DialEVMBalances(ctx, evmNetworks(cfg.EVM))
	if err != nil {
		return err
	}
	defer balances.Close()

	seed := cfg.SignerSeed
	if seed == "" {
		logger.Warn().Msg("no signer_seed set, generating an ephemeral signing key")
		if seed, err = ephemeralSeed(); err != nil {
			return err
		}
	}
	keys, err := signer.NewKeySigner(seed, node)
	if err != nil {
		return err
	}

	popup := surface.New(receipts, keys, dir)
	approvals := consent.NewController(popup, receipts, cfg.SurfaceURL, consent.WithTimeout(cfg.ConsentTimeout.Duration))
	popup.Attach(approvals)

	tabs := browser.NewTabRegistry()
	rtr := router.New(routerConfig(cfg), router.Deps{
		Authorizations: auths,
		Accounts:       dir,
		Approvals:      approvals,
		Tabs:           tabs,
		Chain:          node,
		Balances:       balances,
		Bus:            messages,
	})
	router.RegisterMetrics()

	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()
	routerDone := make(chan error, 1)
	go func() { routerDone <- rtr.Run(routerCtx) }()

	engine := httpapi.SetupRouter(httpapi.RouterConfig{
		Surface:        popup,
		Authorizations: auths,
		Accounts:       dir,
		APIToken:       cfg.APIToken,
		Bridge:         ws.NewBridge(messages, tabs, rtr),
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("walletlink listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case err := <-routerDone:
		if err != nil {
			return fmt.Errorf("router stopped: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	// pending consents resolve as closed so every waiting page gets a reply
	approvals.Shutdown(shutdownCtx)
	cancelRouter()
	return nil
}

func routerConfig(cfg config.Config) router.Config {
	return router.Config{
		WalletName:       cfg.WalletName,
		NativePlatform:   cfg.NativePlatform,
		NativeSymbol:     cfg.NativeSymbol,
		NativeDecimals:   cfg.NativeDecimals,
		DefaultPayload:   cfg.DefaultPayload,
		AuthorizationTTL: cfg.AuthorizationTTL.Duration,
	}
}

func evmNetworks(in []config.EVMNetwork) []chain.EVMNetwork {
	out := make([]chain.EVMNetwork, 0, len(in))
	for _, n := range in {
		out = append(out, chain.EVMNetwork{
			Platform:   n.Platform,
			Symbol:     n.Symbol,
			Decimals:   n.Decimals,
			MainnetURL: n.MainnetURL,
			TestnetURL: n.TestnetURL,
		})
	}
	return out
}

// loadReceiptKey reads a PEM encoded P-256 key, or generates one when path is empty.
func loadReceiptKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read receipt key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse receipt key: %w", err)
	}
	return key, nil
}

func ephemeralSeed() (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), nil
}
