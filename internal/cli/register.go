package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/roach88/lienwatch/internal/ident"
	"github.com/roach88/lienwatch/internal/tracker"
)

// ErrCodePending is reported when the transaction has not settled in time.
const ErrCodePending = "PENDING"

// RegisterResult is the output of the register command.
type RegisterResult struct {
	Description string           `json:"description"`
	PropertyID  ident.PropertyID `json:"property_id"`
	From        common.Address   `json:"from"`
	Submission  string           `json:"submission"`
	TxHash      common.Hash      `json:"tx_hash"`
	State       tracker.View     `json:"state"`
}

func (r RegisterResult) String() string {
	return fmt.Sprintf("%s\ntx: %s", r.State.Message(), r.TxHash.Hex())
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <description>",
		Short: "Register a mortgage for a property",
		Long: `Sign and submit a registerMortgage transaction with the configured key,
then follow it until it confirms, reverts or is rejected as double financing.

The key is read from private_key (LIENWATCH_PRIVATE_KEY). The command waits
at most settle (default 5m) for the outcome.

Exit codes:
  0 - Mortgage registered
  1 - Rejected, reverted, refused or still pending
  2 - Command error (no rpc_url or key, bad config)`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(rootOpts, args[0], cmd)
		},
	}
}

func runRegister(opts *RootOptions, description string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	sess, backend, err := opts.openSession(ctx)
	if err != nil {
		return failSetup(formatter, err)
	}
	defer backend.Close()
	defer sess.Close()

	signer, err := backend.Signer(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	sess.Connect(signer)

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		sess.Run(runCtx)
	}()
	go sess.Watch(runCtx)
	defer func() {
		cancel()
		<-runDone
	}()

	pending, err := sess.Register(ctx, description)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, err)
	}
	formatter.VerboseLog("submitted %s as %s", pending.TxHash.Hex(), pending.Submission)

	result := RegisterResult{
		Description: description,
		PropertyID:  pending.PropertyID,
		From:        signer.Address(),
		Submission:  pending.Submission,
		TxHash:      pending.TxHash,
	}

	waitCtx := ctx
	if opts.Config.Settle > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = context.WithTimeout(ctx, opts.Config.Settle)
		defer cancelWait()
	}
	final, err := sess.WaitSettled(waitCtx)
	result.State = final.View()
	if err != nil {
		if outErr := formatter.Error(ErrCodePending, tracker.MsgPending, result); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, ErrCodePending, err)
	}

	if final.Phase == tracker.PhaseFailed && final.Err != nil {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, final.Err)
	}
	if final.Phase != tracker.PhaseConfirmed {
		return formatter.Fail(ExitFailure, ErrCodeGeneric, errors.New("transaction did not confirm"))
	}
	return formatter.Success(result)
}
