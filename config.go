package lndk

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/a-mpch/lndk/offers"
	"github.com/a-mpch/lndk/onionmsg"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/fn/v2"
)

const (
	defaultLogLevel = "info"
	defaultNetwork  = "mainnet"
	defaultLndHost  = "localhost:10009"

	defaultTLSCertFilename  = "tls.cert"
	defaultMacaroonFilename = "admin.macaroon"
)

var (
	// DefaultLndDir is the default lnd data directory we read node
	// credentials from.
	DefaultLndDir = btcutil.AppDataDir("lnd", false)

	defaultTLSCertPath = filepath.Join(
		DefaultLndDir, defaultTLSCertFilename,
	)
)

// Config holds the daemon's startup options, populated from command line
// flags.
type Config struct {
	LndHost string `long:"lndhost" description:"The host:port of lnd's grpc server"`

	TLSCertPath string `long:"tlscertpath" description:"Path to lnd's TLS certificate"`

	MacaroonPath string `long:"macaroonpath" description:"Path to a macaroon with permission to manage invoices, payments and peers"`

	Network string `long:"network" description:"The bitcoin network lnd runs on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"signet" choice:"simnet"`

	LogLevel string `long:"loglevel" description:"Logging level for all subsystems" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"critical"`

	SigningSeed string `long:"signingseed" description:"Hex encoded 32 byte seed for offer signing keys; randomized on every start when unset, which invalidates previously published offers"`

	ResponseInvoiceTimeout time.Duration `long:"responseinvoicetimeout" description:"How long to wait for offer creators to respond with an invoice"`

	SendInterval time.Duration `long:"sendinterval" description:"How often queued outbound messages are delivered"`

	// ActiveNetParams are the chain parameters the Network option
	// resolves to.
	ActiveNetParams *chaincfg.Params
}

// DefaultConfig returns the daemon's default options.
func DefaultConfig() Config {
	return Config{
		LndHost:                defaultLndHost,
		TLSCertPath:            defaultTLSCertPath,
		Network:                defaultNetwork,
		LogLevel:               defaultLogLevel,
		ResponseInvoiceTimeout: offers.DefaultResponseInvoiceTimeout,
		SendInterval:           onionmsg.DefaultSendInterval,
	}
}

// LoadConfig parses command line flags into the default config and
// validates the result.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateConfig resolves derived options and rejects inconsistent ones.
func ValidateConfig(cfg *Config) error {
	params, err := networkParams(cfg.Network)
	if err != nil {
		return err
	}
	cfg.ActiveNetParams = params

	if cfg.MacaroonPath == "" {
		cfg.MacaroonPath = filepath.Join(
			DefaultLndDir, "data", "chain", "bitcoin",
			cfg.Network, defaultMacaroonFilename,
		)
	}

	if _, err := cfg.SigningSeedOption(); err != nil {
		return err
	}

	if cfg.ResponseInvoiceTimeout <= 0 {
		return fmt.Errorf("response invoice timeout must be "+
			"positive, got %v", cfg.ResponseInvoiceTimeout)
	}

	if cfg.SendInterval <= 0 {
		return fmt.Errorf("send interval must be positive, got %v",
			cfg.SendInterval)
	}

	return nil
}

// SigningSeedOption decodes the optional signing seed.
func (c *Config) SigningSeedOption() (fn.Option[[32]byte], error) {
	if c.SigningSeed == "" {
		return fn.None[[32]byte](), nil
	}

	seedBytes, err := hex.DecodeString(c.SigningSeed)
	if err != nil {
		return fn.None[[32]byte](), fmt.Errorf("signing seed is not "+
			"valid hex: %v", err)
	}

	if len(seedBytes) != 32 {
		return fn.None[[32]byte](), fmt.Errorf("signing seed must "+
			"be 32 bytes, got %d", len(seedBytes))
	}

	var seed [32]byte
	copy(seed[:], seedBytes)

	return fn.Some(seed), nil
}

// networkParams maps a network name to its chain parameters.
func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil

	case "testnet":
		return &chaincfg.TestNet3Params, nil

	case "regtest":
		return &chaincfg.RegressionNetParams, nil

	case "signet":
		return &chaincfg.SigNetParams, nil

	case "simnet":
		return &chaincfg.SimNetParams, nil

	default:
		return nil, fmt.Errorf("unknown network: %v", network)
	}
}
