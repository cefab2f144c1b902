package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/huddle/internal/activity"
	"github.com/alecgard/huddle/internal/api"
	"github.com/alecgard/huddle/internal/metrics"
	"github.com/alecgard/huddle/internal/user"
	"github.com/spf13/cobra"
)

// janitorInterval paces expired-session cleanup and idle bucket sweeps.
const janitorInterval = 15 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Huddle API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	m := metrics.New()
	m.RegisterDBPoolCollector(func() metrics.PoolStats {
		s := a.pool.Stat()
		return metrics.PoolStats{
			Total:      s.TotalConns(),
			Idle:       s.IdleConns(),
			Acquired:   s.AcquiredConns(),
			Max:        s.MaxConns(),
			EmptyWaits: s.EmptyAcquireCount(),
		}
	})

	events := activity.NewStore(a.pool)
	collector := activity.NewCollector(events, cfg.Activity.BatchSize, cfg.Activity.FlushInterval, logger)
	collector.SetMetrics(m)
	go collector.Start(ctx)

	a.matcher.SetMetrics(m)
	a.locker.SetMetrics(m)
	a.admission.SetMetrics(m)
	a.admission.SetActivity(collector)

	go a.warmer.Start(ctx)
	go runJanitor(ctx, a, logger)

	router := api.NewRouter(api.RouterDeps{
		Accounts:       a.accounts,
		Sessions:       user.NewAuthAdapter(a.users),
		Matcher:        a.matcher,
		Teams:          a.admission,
		TeamViews:      a.projector,
		Activity:       events,
		Warmer:         a.warmer,
		Cache:          a.recommend,
		Limiter:        a.limiter,
		LoginLimiter:   a.loginLimit,
		Metrics:        m,
		DB:             a.pool,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr(), "lock_scope", cfg.Admission.LockScope)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err = srv.Shutdown(shutdownCtx)

	// Stop background work after in-flight requests have drained so their
	// activity events still reach the final flush.
	a.warmer.Stop()
	collector.Stop()

	return err
}

// runJanitor periodically deletes expired sessions and drops idle in-memory
// rate-limit buckets.
func runJanitor(ctx context.Context, a *app, logger *slog.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n, err := a.users.CleanExpiredSessions(ctx)
			if err != nil {
				logger.Error("cleaning expired sessions", "error", err)
			} else if n > 0 {
				logger.Info("expired sessions removed", "count", n)
			}
			for _, l := range a.memLimiters {
				l.Sweep()
			}
		case <-ctx.Done():
			return
		}
	}
}
