package cli

import (
	"github.com/spf13/cobra"
)

var disableCmd = &cobra.Command{
	Use:   "disable <job_name>",
	Short: "Disable a job by name in pipeline.yaml",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobEnabled(args[0], false)
	},
}

func init() {
	disableCmd.ValidArgsFunction = jobNameCompletion
	rootCmd.AddCommand(disableCmd)
}
