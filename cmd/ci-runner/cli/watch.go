package cli

import (
	"io/fs"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/logging"
	"github.com/davarch/ci-runner/internal/infrastructure/notify_libnotify"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchPath   string
	watchBranch string
)

const watchDebounce = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a source tree and run the pipeline when it settles after a change",
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		rt := buildRuntime(log, cfg)
		note := notify_libnotify.NewSoft()

		w, err := fsnotify.NewWatcher()
		if err != nil {
			log.Fatal("fsnotify init failed", zap.Error(err))
		}
		defer func() { _ = w.Close() }()

		if err := addTree(w, watchPath); err != nil {
			log.Fatal("fsnotify add failed", zap.String("path", watchPath), zap.Error(err))
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		log.Info("watching",
			zap.String("path", watchPath),
			zap.String("branch", watchBranch),
			zap.String("pipeline", cfg.Name),
		)

		runs := make(chan struct{}, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-runs:
					ev := domain.Event{Branch: watchBranch, Kind: domain.EventPush}
					res, err := rt.sched.Run(ctx, cfg.PipelineSpec(), ev)
					if err != nil {
						log.Error("pipeline could not run", zap.Error(err))
						continue
					}
					rt.persist(ctx, log, res)
					if err := note.NotifyResult(ctx, res); err != nil {
						log.Warn("notify failed", zap.Error(err))
					}
				}
			}
		}()

		var timer *time.Timer
		fire := func() {
			select {
			case runs <- struct{}{}:
			default:
				// A run is already pending; the change is covered by it.
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if skipPath(ev.Name) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(watchDebounce, fire)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(watchDebounce)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("fsnotify error", zap.Error(err))
			}
		}
	},
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if skipPath(path) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func skipPath(path string) bool {
	base := filepath.Base(path)
	return base != "." && strings.HasPrefix(base, ".") || base == "target" || base == "node_modules"
}

func init() {
	watchCmd.Flags().StringVar(&watchPath, "path", ".", "directory to watch")
	watchCmd.Flags().StringVar(&watchBranch, "branch", "trunk", "branch to attribute synthesized events to")

	rootCmd.AddCommand(watchCmd)
}
