package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var (
	listOnlyEnabled  bool
	listOnlyDisabled bool
	listJSON         bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs from pipeline.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		items := make([]config.Job, 0, len(cfg.Jobs))
		for _, j := range cfg.Jobs {
			if listOnlyEnabled && !j.IsEnabled() {
				continue
			}
			if listOnlyDisabled && j.IsEnabled() {
				continue
			}
			items = append(items, j)
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(items)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "JOB\tSTEPS\tSETUP\tENABLED")
		for _, j := range items {
			en := "false"
			if j.IsEnabled() {
				en = "true"
			}
			_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", j.Name, len(j.Steps), len(j.Setup)+len(cfg.Setup), en)
		}
		_ = w.Flush()
		return nil
	},
}

func init() {
	listCmd.Flags().BoolVar(&listOnlyEnabled, "enabled", false, "show only enabled jobs")
	listCmd.Flags().BoolVar(&listOnlyDisabled, "disabled", false, "show only disabled jobs")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	listCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if listOnlyEnabled && listOnlyDisabled {
			return fmt.Errorf("flags --enabled and --disabled are mutually exclusive")
		}
		return nil
	}

	rootCmd.AddCommand(listCmd)
}
