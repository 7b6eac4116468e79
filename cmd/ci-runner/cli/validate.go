package cli

import (
	"fmt"

	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate pipeline.yaml and the pipeline it compiles to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		spec := cfg.PipelineSpec()
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("compiled pipeline: %w", err)
		}

		fmt.Printf("ok: pipeline %q, %d enabled job(s), trigger %v on %v\n",
			spec.Name, len(spec.Jobs), spec.Trigger.Kinds, spec.Trigger.Branches)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
