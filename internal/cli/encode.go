package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lienwatch/internal/ident"
)

// EncodeResult is the output of the encode command.
type EncodeResult struct {
	Description string           `json:"description"`
	PropertyID  ident.PropertyID `json:"property_id"`
	Scheme      ident.Scheme     `json:"scheme"`
	Normalized  bool             `json:"normalized"`
	Truncated   bool             `json:"truncated"`
}

func (r EncodeResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)", r.PropertyID.Hex(), r.Scheme)
	if r.Truncated {
		b.WriteString("\nwarning: description exceeds the identifier width; descriptions sharing this prefix map to the same key")
	}
	return b.String()
}

// NewEncodeCommand creates the encode command.
func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "encode <description>",
		Short: "Print the property identifier of a description",
		Long: `Encode a free-text property description into the 32-byte identifier
used as the registry key. Works offline.

Examples:
  lienwatch encode "123 Main St"
  lienwatch encode "123 Main St" --identifier-scheme keccak`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(rootOpts, args[0], cmd)
		},
	}
}

func runEncode(opts *RootOptions, description string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	codec, err := opts.Config.Codec()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err)
	}
	return formatter.Success(EncodeResult{
		Description: description,
		PropertyID:  codec.Encode(description),
		Scheme:      codec.Scheme(),
		Normalized:  codec.Normalizes(),
		Truncated:   codec.Truncates(description),
	})
}
