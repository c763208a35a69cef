package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	domrepo "FxGuard/internal/domain/repository"
	"FxGuard/internal/service/sources"
	"FxGuard/internal/usecase"
	"FxGuard/pkg/config"
	xhttp "FxGuard/pkg/http"
	pkgkafka "FxGuard/pkg/kafka"
	"FxGuard/pkg/logger"
)

// Purger drops expired rows from a persistent cache tier.
type Purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Components are the long-running parts of the service. Any of them may be nil
// when disabled by configuration.
type Components struct {
	HTTP      *xhttp.Server
	Scheduler *usecase.Scheduler
	Consumer  *pkgkafka.Consumer
	Handlers  []pkgkafka.MessageHandler
	Producer  *pkgkafka.Producer
	Stream    *sources.FinnhubStream
	Cache     io.Closer
	Purger    Purger
	Store     domrepo.ValidationStore
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg *config.Config
	log *logger.Logger
	c   Components

	wg sync.WaitGroup
}

func New(cfg *config.Config, log *logger.Logger, c Components) *App {
	return &App{cfg: cfg, log: log.With("app"), c: c}
}

// Run starts every enabled component and blocks until ctx is cancelled, SIGINT or
// SIGTERM arrives, or the HTTP listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var httpErrs <-chan error
	if a.c.HTTP != nil {
		httpErrs = a.c.HTTP.Start()
	}

	if a.c.Stream != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.c.Stream.Run(ctx)
		}()
		a.log.Info("finnhub stream started")
	}

	if a.c.Scheduler != nil {
		a.c.Scheduler.Start(ctx)
	}

	if a.c.Consumer != nil && len(a.c.Handlers) > 0 {
		for _, h := range a.c.Handlers {
			a.c.Consumer.RegisterHandler(h)
		}
		if err := a.c.Consumer.Start(); err != nil {
			a.log.Error("kafka consumer start failed", logger.Error(err))
			a.shutdown()
			return err
		}
	}

	if a.c.Purger != nil && a.cfg.Cache.PurgeInterval > 0 {
		a.wg.Add(1)
		go a.purgeLoop(ctx, a.cfg.Cache.PurgeInterval)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case err, ok := <-httpErrs:
		if ok && err != nil {
			runErr = err
		}
	}

	stop()
	a.shutdown()
	return runErr
}

func (a *App) purgeLoop(ctx context.Context, every time.Duration) {
	defer a.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.c.Purger.PurgeExpired(ctx)
			if err != nil {
				a.log.Warn("cache purge failed", logger.Error(err))
				continue
			}
			if n > 0 {
				a.log.Debug("expired cache rows purged", logger.Int64("rows", n))
			}
		}
	}
}

// shutdown stops producers of work before the sinks they write to.
func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	a.log.Info("shutting down")

	if a.c.Scheduler != nil {
		if err := a.c.Scheduler.Stop(ctx); err != nil {
			a.log.Warn("scheduler stop error", logger.Error(err))
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("kafka consumer stop error", logger.Error(err))
		}
	}
	if a.c.HTTP != nil {
		if err := a.c.HTTP.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", logger.Error(err))
		}
	}
	if a.c.Stream != nil {
		_ = a.c.Stream.Close()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("background tasks did not stop in time")
	}

	// The log collector publishes through the producer, so it goes first.
	a.log.RemoveCollector()

	var errs []error
	if a.c.Producer != nil {
		errs = append(errs, a.c.Producer.Close())
	}
	if a.c.Cache != nil {
		errs = append(errs, a.c.Cache.Close())
	}
	if a.c.Store != nil {
		errs = append(errs, a.c.Store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("close error", logger.Error(err))
	}

	a.log.Info("shutdown complete")
}
