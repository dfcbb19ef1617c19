package cli

import (
	"github.com/spf13/cobra"

	internalcli "github.com/SmitUplenchwar2687/Turnstile/internal/cli"
)

// NewRootCmd creates the turnstile root command for embedding in another
// binary.
func NewRootCmd() *cobra.Command {
	return internalcli.NewRootCmd()
}
