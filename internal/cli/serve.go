package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"compensation-engine/internal/consumer"
	"compensation-engine/internal/metrics"
	"compensation-engine/internal/processor"
	"compensation-engine/internal/reconcile"
	"compensation-engine/internal/rewards"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume events, run the schedules and serve the ops endpoints",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.serve(ctx)
	},
}

func (a *app) serve(ctx context.Context) error {
	log := a.log

	incoming := make(chan processor.Incoming, a.cfg.Rabbit.Prefetch)
	pool := processor.New(a.engine, a.cfg.Rabbit.Workers, a.cfg.Rabbit.MaxRedeliveries, log)

	rmqConsumer, err := consumer.New(a.cfg.Rabbit, log, incoming)
	if err != nil {
		return err
	}
	defer rmqConsumer.Close()

	scheduler, err := rewards.NewScheduler(a.cfg.Scheduler, a.rewards, a.engine, log)
	if err != nil {
		return err
	}
	reconciler := reconcile.New(a.store, a.cfg.Reconcile, log)

	srv := &http.Server{
		Addr: a.cfg.Metrics.Addr,
		Handler: metrics.Router(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return a.ready(ctx)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		if err := rmqConsumer.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		return pool.Run(ctx, incoming)
	})
	eg.Go(func() error {
		return scheduler.Run(ctx)
	})
	eg.Go(func() error {
		return reconciler.Run(ctx)
	})
	eg.Go(func() error {
		log.WithField("addr", srv.Addr).Info("ops server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = eg.Wait()
	if err != nil {
		log.WithError(err).Error("service stopped unexpectedly")
		return err
	}
	log.Info("graceful shutdown complete")
	return nil
}
