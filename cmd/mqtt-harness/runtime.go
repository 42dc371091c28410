package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mqtt-test-harness/config"
	"mqtt-test-harness/internal/harness"
	"mqtt-test-harness/internal/logger"
	"mqtt-test-harness/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// runtime bundles what every command needs: configuration, logging and the
// optional metrics endpoint.
type runtime struct {
	cfg     *config.Config
	log     *logger.Logger
	metrics *metrics.Metrics
	server  *http.Server
}

func newRuntime(opts rootOptions) (*runtime, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.Load(opts.configPath)
	} else {
		cfg, err = config.LoadEnvironment(opts.projectRoot, opts.environment)
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyOverrides(opts.host, opts.port, opts.logLevel, opts.metricsAddr)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{cfg: cfg, log: log}
	if cfg.Metrics.Enabled {
		if err := rt.startMetricsServer(); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func (rt *runtime) startMetricsServer() error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m, err := metrics.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("failed to create metrics service: %w", err)
	}
	rt.metrics = m

	mux := http.NewServeMux()
	mux.Handle(rt.cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		Registry:          reg,
		EnableOpenMetrics: true,
	}))
	rt.server = &http.Server{
		Addr:              rt.cfg.Metrics.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		rt.log.Info("starting metrics server",
			"address", rt.cfg.Metrics.Address,
			"path", rt.cfg.Metrics.Path)
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Error("metrics server error", "error", err)
		}
	}()
	return nil
}

func (rt *runtime) newClient() *harness.Client {
	return harness.NewFromConfig(rt.cfg.MQTT,
		harness.WithLogger(rt.log),
		harness.WithMetrics(rt.metrics),
	)
}

func (rt *runtime) close() {
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := rt.server.Shutdown(ctx); err != nil {
			rt.log.Error("failed to shutdown metrics server", "error", err)
		}
	}
	_ = rt.log.Sync()
}
