package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ChargeFit/internal/service/stream"
	"ChargeFit/pkg/cache"
	pkgch "ChargeFit/pkg/clickhouse"
	"ChargeFit/pkg/config"
	xhttp "ChargeFit/pkg/http"
	pkgkafka "ChargeFit/pkg/kafka"
	applogger "ChargeFit/pkg/logger"
)

// Components are the long-lived pieces the App starts and stops. Any of them
// may be nil when the corresponding feature is disabled.
type Components struct {
	HTTPHandler xhttp.Handler
	Consumer    *pkgkafka.Consumer
	Hits        pkgkafka.MessageHandler
	Hub         *stream.Hub
	Producer    *pkgkafka.Producer
	ClickHouse  *pkgch.Client
	Cache       cache.Service
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	l          *applogger.Logger
	c          Components
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, l *applogger.Logger, c Components) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{cfg: cfg, l: l, c: c}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	if err := a.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	a.l.Info("shutdown signal received", applogger.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}

// Start launches the HTTP server and, when configured, the hits consumer.
func (a *App) Start() error {
	a.httpServer = xhttp.NewServer([]xhttp.Handler{a.c.HTTPHandler},
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetrics(a.cfg.Metrics.Enabled, a.cfg.Metrics.Path),
		xhttp.WithLogger(a.l),
	)

	if a.c.Consumer != nil && a.c.Hits != nil {
		a.c.Consumer.RegisterHandler(a.c.Hits)
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("start kafka consumer: %w", err)
		}
		a.l.Info("kafka consumer started", applogger.String("topic", a.c.Hits.Topic()))
	}

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}
	a.l.Info("chargefit started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("sink", a.cfg.Results.Sink),
		applogger.Bool("kafka", a.c.Consumer != nil),
		applogger.Bool("stream", a.c.Hub != nil),
	)
	return nil
}

// Shutdown stops intake first, then drains and closes the backends.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.l.Error("http shutdown error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.c.Consumer != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.c.Hub != nil {
		a.c.Hub.Close()
	}

	// the collector publishes through the producer, so it goes first
	a.l.RemoveCollector()

	if a.c.Producer != nil {
		if err := a.c.Producer.Close(); err != nil {
			a.l.Warn("kafka producer close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.c.ClickHouse != nil {
		if err := a.c.ClickHouse.Close(); err != nil {
			a.l.Warn("clickhouse close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}
	if a.c.Cache != nil {
		if err := a.c.Cache.Close(); err != nil {
			a.l.Warn("cache close error", applogger.Error(err))
			errs = append(errs, err)
		}
	}

	a.l.Info("shutdown complete")
	return errors.Join(errs...)
}
