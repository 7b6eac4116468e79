package cli

import (
	"fmt"

	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/spf13/cobra"
)

var enableCmd = &cobra.Command{
	Use:   "enable <job_name>",
	Short: "Enable a job by name in pipeline.yaml",
	Args:  cobra.MatchAll(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setJobEnabled(args[0], true)
	},
}

func setJobEnabled(name string, enabled bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	changed := false
	for i := range cfg.Jobs {
		if cfg.Jobs[i].Name == name && cfg.Jobs[i].IsEnabled() != enabled {
			v := enabled
			cfg.Jobs[i].Enabled = &v
			changed = true
		}
	}

	verb := "enabled"
	if !enabled {
		verb = "disabled"
	}

	if !changed {
		fmt.Printf("no change (job %q already %s or not found)\n", name, verb)
		return nil
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", verb, name)
	return nil
}

func jobNameCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	out := make([]string, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		if toComplete == "" || startsWith(j.Name, toComplete) {
			out = append(out, j.Name)
		}
	}

	return out, cobra.ShellCompDirectiveNoFileComp
}

func startsWith(s, pref string) bool {
	if len(pref) > len(s) {
		return false
	}

	return s[:len(pref)] == pref
}

func init() {
	enableCmd.ValidArgsFunction = jobNameCompletion
	rootCmd.AddCommand(enableCmd)
}
