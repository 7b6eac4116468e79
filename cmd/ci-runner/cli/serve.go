package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/davarch/ci-runner/internal/application"
	"github.com/davarch/ci-runner/internal/domain"
	"github.com/davarch/ci-runner/internal/infrastructure/config"
	"github.com/davarch/ci-runner/internal/infrastructure/logging"
	"github.com/davarch/ci-runner/internal/infrastructure/metrics"
	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Listen for repository events over HTTP and run matched pipelines",
	Run: func(cmd *cobra.Command, args []string) {
		log := logging.New()
		defer func() { _ = log.Sync() }()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		s := newServer(ctx, log, cfg)
		s.watchAndReload(ctx, cfgPath)

		srv := &http.Server{
			Addr:        cfg.Serve.Addr,
			Handler:     s.routes(),
			BaseContext: func(net.Listener) context.Context { return ctx },
		}

		go func() {
			<-ctx.Done()
			shctx, shcancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shcancel()
			_ = srv.Shutdown(shctx)
		}()

		log.Info("listening",
			zap.String("addr", cfg.Serve.Addr),
			zap.String("pipeline", cfg.Name),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server", zap.Error(err))
		}
	},
}

type server struct {
	ctx     context.Context // server lifetime; outlives individual requests
	log     *zap.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	cfg  config.Config
	rt   *runtime
	busy bool
}

func newServer(ctx context.Context, log *zap.Logger, cfg config.Config) *server {
	return &server{
		ctx:     ctx,
		log:     log,
		metrics: metrics.New(),
		cfg:     cfg,
		rt:      buildRuntime(log, cfg),
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/events", s.handleEvent)
	r.Get("/runs/latest", s.handleLatest)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

type eventDTO struct {
	Branch string `json:"branch"`
	Kind   string `json:"kind"`
}

func (s *server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var dto eventDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if dto.Kind == "" {
		dto.Kind = string(domain.EventPush)
	}
	kind, ok := domain.ParseEventKind(dto.Kind)
	if !ok || dto.Branch == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "branch and a known kind are required"})
		return
	}
	ev := domain.Event{Branch: dto.Branch, Kind: kind}

	s.mu.Lock()
	cfg, rt := s.cfg, s.rt
	spec := cfg.PipelineSpec()

	if !application.Matches(ev, spec.Trigger) {
		s.mu.Unlock()
		s.metrics.Observe(domain.PipelineResult{OverallStatus: domain.PipelineNotRun})
		writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.PipelineNotRun)})
		return
	}

	if s.busy {
		s.mu.Unlock()
		writeJSON(w, http.StatusConflict, map[string]string{"error": "a run is already in progress"})
		return
	}
	s.busy = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}()

		res, err := rt.sched.Run(s.ctx, spec, ev)
		if err != nil {
			s.log.Error("pipeline could not run", zap.Error(err))
			return
		}
		s.metrics.Observe(res)
		rt.persist(context.Background(), s.log, res)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	rt := s.rt
	s.mu.Unlock()

	raw, err := rt.history.Latest(r.Context())
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no runs recorded"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(raw)
}

func (s *server) watchAndReload(ctx context.Context, cfgPath string) {
	if cfgPath == "" {
		return
	}

	dir := filepath.Dir(cfgPath)
	base := filepath.Base(cfgPath)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.log.Warn("fsnotify init failed", zap.Error(err))
		return
	}

	go func() {
		defer func() { _ = w.Close() }()

		var timer *time.Timer
		fire := func() {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				s.log.Warn("config reload failed", zap.Error(err))
				return
			}
			s.mu.Lock()
			s.cfg = cfg
			s.rt = buildRuntime(s.log, cfg)
			s.mu.Unlock()
			s.log.Info("config reloaded", zap.Int("jobs", len(cfg.Jobs)))
		}

		if err := w.Add(dir); err != nil {
			s.log.Warn("fsnotify add dir failed", zap.String("dir", dir), zap.Error(err))
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.AfterFunc(300*time.Millisecond, fire)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(300 * time.Millisecond)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("fsnotify error", zap.Error(err))
			}
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
