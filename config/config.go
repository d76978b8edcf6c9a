// Package config loads walletlink settings from a TOML file with
// WALLETLINK_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const envPrefix = "WALLETLINK_"

// Duration is a time.Duration written as "5m" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// EVMNetwork configures balances for one external EVM platform.
type EVMNetwork struct {
	Platform   string `toml:"platform"`
	Symbol     string `toml:"symbol"`
	Decimals   int    `toml:"decimals"`
	MainnetURL string `toml:"mainnet_url"`
	TestnetURL string `toml:"testnet_url"`
}

type Config struct {
	ListenAddr string `toml:"listen_addr"`
	APIToken   string `toml:"api_token"`
	LogLevel   string `toml:"log_level"`
	LogPretty  bool   `toml:"log_pretty"`

	// Redis backs storage and the bus when set; otherwise both are in memory.
	RedisURL string `toml:"redis_url"`

	RPCURL         string `toml:"rpc_url"`
	SignerSeed     string `toml:"signer_seed"`
	ReceiptKeyFile string `toml:"receipt_key_file"`

	SurfaceURL       string   `toml:"surface_url"`
	ConsentTimeout   Duration `toml:"consent_timeout"`
	AuthorizationTTL Duration `toml:"authorization_ttl"`

	WalletName     string `toml:"wallet_name"`
	NativePlatform string `toml:"native_platform"`
	NativeSymbol   string `toml:"native_symbol"`
	NativeDecimals int    `toml:"native_decimals"`
	DefaultPayload string `toml:"default_payload"`

	EVM []EVMNetwork `toml:"evm"`
}

func Default() Config {
	return Config{
		ListenAddr:       "127.0.0.1:8645",
		LogLevel:         "info",
		RPCURL:           "http://localhost:7077/rpc",
		SurfaceURL:       "popup.html?/#/",
		ConsentTimeout:   Duration{5 * time.Minute},
		AuthorizationTTL: Duration{24 * time.Hour},
		WalletName:       "Ecto",
		NativePlatform:   "phantasma",
		NativeSymbol:     "SOUL",
		NativeDecimals:   8,
		DefaultPayload:   "4543542d312e362e30",
	}
}

// Load reads path over the defaults, then applies the environment. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"LISTEN_ADDR":      &cfg.ListenAddr,
		"API_TOKEN":        &cfg.APIToken,
		"LOG_LEVEL":        &cfg.LogLevel,
		"REDIS_URL":        &cfg.RedisURL,
		"RPC_URL":          &cfg.RPCURL,
		"SIGNER_SEED":      &cfg.SignerSeed,
		"RECEIPT_KEY_FILE": &cfg.ReceiptKeyFile,
		"SURFACE_URL":      &cfg.SurfaceURL,
		"WALLET_NAME":      &cfg.WalletName,
	}
	for key, dst := range str {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	durations := map[string]*Duration{
		"CONSENT_TIMEOUT":   &cfg.ConsentTimeout,
		"AUTHORIZATION_TTL": &cfg.AuthorizationTTL,
	}
	for key, dst := range durations {
		if v, ok := lookup(envPrefix + key); ok {
			if err := dst.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
		}
	}

	if v, ok := lookup(envPrefix + "LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sLOG_PRETTY: %w", envPrefix, err)
		}
		cfg.LogPretty = b
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr is required"))
	}
	if c.SurfaceURL == "" {
		errs = append(errs, errors.New("surface_url is required"))
	}
	if c.ConsentTimeout.Duration < 0 {
		errs = append(errs, errors.New("consent_timeout must not be negative"))
	}
	if c.AuthorizationTTL.Duration <= 0 {
		errs = append(errs, errors.New("authorization_ttl must be positive"))
	}
	if c.NativeSymbol == "" || c.NativePlatform == "" {
		errs = append(errs, errors.New("native_platform and native_symbol are required"))
	}
	for i, n := range c.EVM {
		if n.Platform == "" || n.Symbol == "" {
			errs = append(errs, fmt.Errorf("evm[%d]: platform and symbol are required", i))
		}
	}
	return errors.Join(errs...)
}
