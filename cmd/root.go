package cmd

import (
	"github.com/spf13/cobra"

	"github.com/recbox/recbox/internal/util"
)

var (
	verbose bool

	rootCmd = &cobra.Command{
		Use:   "recbox",
		Short: "Multi-track recording sessions",
		Long: `recbox records independently produced video and audio streams into one
time-synchronized container file (WebM or fragmented MP4), imposing a single
monotonic timeline on inputs whose own timestamps cannot be trusted.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose)
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.AddCommand(NewRecordCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
