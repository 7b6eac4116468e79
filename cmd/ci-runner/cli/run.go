package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	runBranch string
	runEvent  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once for an event; exit 0 only on overall success",
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		kind, ok := domain.ParseEventKind(runEvent)
		if !ok {
			log.Fatal("unknown event kind", zap.String("event", runEvent))
		}
		if runBranch == "" {
			log.Fatal("a branch is required (--branch)")
		}
		ev := domain.Event{Branch: runBranch, Kind: kind}

		rt := buildRuntime(log, cfg)

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info("start",
			zap.String("version", version),
			zap.String("pipeline", cfg.Name),
			zap.String("branch", ev.Branch),
			zap.String("kind", string(ev.Kind)),
		)

		res, err := rt.sched.Run(ctx, cfg.PipelineSpec(), ev)
		if err != nil {
			log.Error("pipeline could not run", zap.Error(err))
			os.Exit(1)
		}

		pctx, pcancel := context.WithTimeout(context.Background(), 30*time.Second)
		rt.persist(pctx, log, res)
		pcancel()

		printSummary(os.Stdout, res)
		os.Exit(exitCode(res))
	},
}

func init() {
	runCmd.Flags().StringVar(&runBranch, "branch", "", "branch the event refers to")
	runCmd.Flags().StringVar(&runEvent, "event", string(domain.EventPush), "event kind (push, pull_request, manual)")

	rootCmd.AddCommand(runCmd)
}
