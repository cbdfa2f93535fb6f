package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/lienwatch/internal/config"
	"github.com/roach88/lienwatch/internal/ledger"
	"github.com/roach88/lienwatch/internal/session"
)

// RootOptions holds global flags and the loaded configuration.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	Config config.Config
	viper  *viper.Viper
	dial   Dialer
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Backend is a connected ledger plus the means to sign for it.
type Backend interface {
	Ledger() ledger.Ledger
	Signer(ctx context.Context) (ledger.Signer, error)
	Close()
}

// Dialer opens a Backend for cfg.
type Dialer func(ctx context.Context, cfg config.Config) (Backend, error)

// NewRootCommand creates the root command for the lienwatch CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithDialer(DialEthereum)
}

// NewRootCommandWithDialer creates the root command with a custom ledger
// dialer.
func NewRootCommandWithDialer(dial Dialer) *cobra.Command {
	opts := &RootOptions{viper: config.New(), dial: dial}

	cmd := &cobra.Command{
		Use:   "lienwatch",
		Short: "lienwatch - on-chain mortgage registry client",
		Long: `A client for the double-financing mortgage registry.

Registers mortgages against property identifiers, checks whether a property
is already financed, and watches the registry for double-financing alerts.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			installLogger(cmd.ErrOrStderr(), opts.Verbose)

			if err := config.BindFlags(opts.viper, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(opts.viper, opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, ErrCodeConfig, err)
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (YAML)")
	cmd.PersistentFlags().String("rpc-url", "", "JSON-RPC endpoint of the node")
	cmd.PersistentFlags().String("identifier-scheme", "", "property identifier scheme (prefix|keccak|legacy-abi)")
	cmd.PersistentFlags().Bool("normalize", false, "NFC-normalize property descriptions before encoding")

	cmd.AddCommand(NewEncodeCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewRegisterCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewDemoCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// installLogger routes slog to w: debug and up with --verbose, warnings
// and up otherwise.
func installLogger(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// openSession dials the configured ledger and wires a session over it.
func (o *RootOptions) openSession(ctx context.Context, extra ...session.Option) (*session.Session, Backend, error) {
	codec, err := o.Config.Codec()
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, ErrCodeConfig, err)
	}
	backend, err := o.dial(ctx, o.Config)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, ErrCodeConnect, err)
	}
	sess, err := session.New(backend.Ledger(), append([]session.Option{session.WithCodec(codec)}, extra...)...)
	if err != nil {
		backend.Close()
		return nil, nil, WrapExitError(ExitCommandError, ErrCodeGeneric, err)
	}
	return sess, backend, nil
}

// failSetup reports an error returned by openSession.
func failSetup(f *OutputFormatter, err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err != nil {
		return f.Fail(exitErr.Code, exitErr.Message, exitErr.Err)
	}
	return f.Fail(ExitCommandError, ErrCodeGeneric, err)
}

// ethereumBackend is the Backend of a JSON-RPC node.
type ethereumBackend struct {
	eth   *ledger.Ethereum
	close func()
	cfg   config.Config
	chain func(ctx context.Context) (*big.Int, error)
}

// DialEthereum connects to cfg.RPCURL.
func DialEthereum(ctx context.Context, cfg config.Config) (Backend, error) {
	if cfg.RPCURL == "" {
		return nil, config.ErrNoRPCURL
	}
	eth, client, err := ledger.Dial(ctx, cfg.RPCURL, cfg.Ethereum())
	if err != nil {
		return nil, err
	}
	return &ethereumBackend{eth: eth, close: client.Close, cfg: cfg, chain: client.ChainID}, nil
}

func (b *ethereumBackend) Ledger() ledger.Ledger {
	return b.eth
}

func (b *ethereumBackend) Signer(ctx context.Context) (ledger.Signer, error) {
	if b.cfg.PrivateKey == "" {
		return nil, config.ErrNoPrivateKey
	}
	chainID := big.NewInt(b.cfg.ChainID)
	if b.cfg.ChainID == 0 {
		id, err := b.chain(ctx)
		if err != nil {
			return nil, fmt.Errorf("query chain id: %w", err)
		}
		chainID = id
	}
	return ledger.NewKeySigner(b.eth.Bound(), b.cfg.PrivateKey, chainID)
}

func (b *ethereumBackend) Close() {
	b.close()
}
