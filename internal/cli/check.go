package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/lienwatch/internal/ident"
	"github.com/roach88/lienwatch/internal/tracker"
)

// CheckResult is the output of the check command.
type CheckResult struct {
	Description string           `json:"description"`
	PropertyID  ident.PropertyID `json:"property_id"`
	Exists      bool             `json:"exists"`
	Message     string           `json:"message"`
}

func (r CheckResult) String() string {
	return r.Message
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check <description>",
		Short: "Check whether a property already has a registered mortgage",
		Long: `Query the registry for a property. No key is needed.

Exit codes:
  0 - Query answered (either way)
  1 - Query failed
  2 - Command error (no rpc_url, bad config)

Examples:
  lienwatch check "123 Main St" --rpc-url https://sepolia.example.org
  lienwatch check "123 Main St" --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(rootOpts, args[0], cmd)
		},
	}
}

func runCheck(opts *RootOptions, description string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	sess, backend, err := opts.openSession(ctx)
	if err != nil {
		return failSetup(formatter, err)
	}
	defer backend.Close()
	defer sess.Close()

	exists, err := sess.Check(ctx, description)
	if err != nil {
		return formatter.Fail(ExitFailure, string(tracker.ErrCodeQueryFailed), err)
	}
	return formatter.Success(CheckResult{
		Description: description,
		PropertyID:  sess.Codec().Encode(description),
		Exists:      exists,
		Message:     tracker.CheckResultMessage(exists),
	})
}
