package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/recbox/recbox/internal/version"
)

// NewVersionCommand prints build information
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			info := version.Info()
			fmt.Printf("recbox version %s, build %s\n", info["Version"], info["GitCommit"])
			fmt.Printf("  go:    %s\n", info["GoVersion"])
			fmt.Printf("  built: %s (%s/%s)\n", info["FormattedTime"], info["Os"], info["Arch"])
		},
	}
}
