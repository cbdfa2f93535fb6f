// Package config loads client settings from a YAML file, LIENWATCH_*
// environment variables and command-line flags, and validates them against
// an embedded CUE schema.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/lienwatch/internal/ident"
	"github.com/roach88/lienwatch/internal/ledger"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix namespaces environment overrides, e.g. LIENWATCH_RPC_URL.
const EnvPrefix = "LIENWATCH"

// Keys.
const (
	KeyRPCURL           = "rpc_url"
	KeyContractAddress  = "contract_address"
	KeyChainID          = "chain_id"
	KeyPrivateKey       = "private_key"
	KeyIdentifierScheme = "identifier_scheme"
	KeyNormalize        = "normalize"
	KeyPollInterval     = "poll_interval"
	KeyStartBlock       = "start_block"
	KeyMetricsAddr      = "metrics_addr"
	KeySettle           = "settle"
)

// Config is the validated client configuration.
type Config struct {
	RPCURL           string        `mapstructure:"rpc_url" json:"rpc_url"`
	ContractAddress  string        `mapstructure:"contract_address" json:"contract_address"`
	ChainID          int64         `mapstructure:"chain_id" json:"chain_id"`
	PrivateKey       string        `mapstructure:"private_key" json:"private_key"`
	IdentifierScheme string        `mapstructure:"identifier_scheme" json:"identifier_scheme"`
	Normalize        bool          `mapstructure:"normalize" json:"normalize"`
	PollInterval     time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	StartBlock       uint64        `mapstructure:"start_block" json:"start_block"`
	MetricsAddr      string        `mapstructure:"metrics_addr" json:"metrics_addr"`
	Settle           time.Duration `mapstructure:"settle" json:"settle"`
}

// ErrNoRPCURL is returned by commands that need a node when none is set.
var ErrNoRPCURL = errors.New("rpc_url is not configured (set it in the config file or LIENWATCH_RPC_URL)")

// ErrNoPrivateKey is returned by commands that sign when no key is set.
var ErrNoPrivateKey = errors.New("private_key is not configured (set LIENWATCH_PRIVATE_KEY)")

// SetDefaults installs the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyRPCURL, "")
	v.SetDefault(KeyContractAddress, ledger.DefaultContractAddress.Hex())
	v.SetDefault(KeyChainID, 0)
	v.SetDefault(KeyPrivateKey, "")
	v.SetDefault(KeyIdentifierScheme, string(ident.SchemePrefix))
	v.SetDefault(KeyNormalize, false)
	v.SetDefault(KeyPollInterval, ledger.DefaultPollInterval)
	v.SetDefault(KeyStartBlock, 0)
	v.SetDefault(KeyMetricsAddr, "")
	v.SetDefault(KeySettle, 5*time.Minute)
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds every flag in fs whose name is a config key, with dashes
// read as underscores (--rpc-url sets rpc_url).
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if !isKey(key) || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	return bindErr
}

func isKey(key string) bool {
	switch key {
	case KeyRPCURL, KeyContractAddress, KeyChainID, KeyPrivateKey, KeyIdentifierScheme,
		KeyNormalize, KeyPollInterval, KeyStartBlock, KeyMetricsAddr, KeySettle:
		return true
	}
	return false
}

// Load reads path (if non-empty) into v, decodes and validates the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded schema.
func Validate(cfg Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	unified := def.Unify(ctx.Encode(cfg))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}
	return nil
}

// ValidationError lists every schema violation.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.TrimSpace(e.Details)
}

// Contract returns the registry address.
func (c Config) Contract() common.Address {
	return common.HexToAddress(c.ContractAddress)
}

// Codec builds the identifier codec selected by the config.
func (c Config) Codec() (*ident.Codec, error) {
	scheme, err := ident.ParseScheme(c.IdentifierScheme)
	if err != nil {
		return nil, err
	}
	opts := []ident.Option{ident.WithScheme(scheme)}
	if c.Normalize {
		opts = append(opts, ident.WithNFC())
	}
	return ident.NewCodec(opts...), nil
}

// Ethereum returns the ledger settings.
func (c Config) Ethereum() ledger.EthereumConfig {
	return ledger.EthereumConfig{
		Contract:     c.Contract(),
		PollInterval: c.PollInterval,
		StartBlock:   c.StartBlock,
	}
}
