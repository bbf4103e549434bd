package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"props2mcp/internal/mcp"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	RunE:  runVersion,
}

func runVersion(_ *cobra.Command, _ []string) error {
	fmt.Println("props2mcp", mcp.Version)
	return nil
}
