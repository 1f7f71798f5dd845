package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mvolli/growatt-bridge/internal/pkg/config"
	"github.com/mvolli/growatt-bridge/internal/pkg/metrics"
	"github.com/mvolli/growatt-bridge/internal/pkg/model"
	"github.com/mvolli/growatt-bridge/internal/pkg/mqtt"
	"github.com/mvolli/growatt-bridge/internal/pkg/normalize"
	"github.com/mvolli/growatt-bridge/internal/pkg/poller"
	"github.com/mvolli/growatt-bridge/internal/pkg/publisher"
	"github.com/mvolli/growatt-bridge/internal/pkg/transport"
)

// BridgeCommand is the entry point for the bridge CLI command. It merges the
// environment-derived config with any CLI flag overrides and starts the
// acquisition loop.
func BridgeCommand(ctx *cli.Context) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	applyFlags(ctx, cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}
	return run(ctx.Context, cfg, ctx.String("log-level"))
}

func applyFlags(ctx *cli.Context, cfg *config.BridgeConfig) {
	if v := ctx.String("connection-type"); v != "" {
		cfg.ConnectionType = model.ConnectionType(v)
	}
	if v := ctx.String("device-type"); v != "" {
		cfg.DeviceType = model.DeviceVariant(v)
	}
	if v := ctx.String("username"); v != "" {
		cfg.Username = v
	}
	if v := ctx.String("password"); v != "" {
		cfg.Password = v
	}
	if v := ctx.String("device-id"); v != "" {
		cfg.DeviceID = v
	}
	if v := ctx.String("modbus-host"); v != "" {
		cfg.Host = v
	}
	if v := ctx.String("mqtt-broker"); v != "" {
		cfg.MqttBroker = v
	}
	if v := ctx.String("publish-broker"); v != "" {
		cfg.PublishBroker = v
	}
	if v := ctx.Duration("scan-interval"); v != 0 {
		cfg.ScanInterval = v
	}
}

func run(ctx context.Context, cfg *config.BridgeConfig, logLevel string) error {
	eg, ctx := errgroup.WithContext(ctx)

	logCfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(logLevel)
	if err != nil {
		return err
	}
	logCfg.Level = level
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	logger := zap.Must(logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel)))
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	tr, err := transport.New(ctx, cfg)
	if err != nil {
		return err
	}

	coord := poller.New(tr, normalize.New(), cfg.ConnectionType, cfg.ScanInterval, cfg.Timeout)
	defer coord.Close()

	if !tr.TestConnection(ctx) {
		logger.Warn("initial connection test failed, polling anyway",
			zap.String("connection_type", cfg.ConnectionType.String()))
	}

	registry := publisher.NewRegistry()
	if cfg.PublishBroker != "" {
		opts := mqtt.NewClientOptions(cfg.PublishBroker, cfg.MqttUsername, cfg.MqttPassword, "growatt-bridge-pub")
		sink := mqtt.NewSink(paho_mqtt.NewClient(opts))
		if err := sink.Connect(); err != nil {
			return err
		}
		defer sink.Close()
		if err := registry.Register("mqtt", sink); err != nil {
			return err
		}
	}

	eg.Go(func() error {
		return coord.Run(ctx)
	})

	eg.Go(func() error {
		return publishLoop(ctx, coord, registry, cfg.ScanInterval)
	})

	if cfg.ConnectionType == model.ConnectionAPI {
		eg.Go(func() error {
			return cronRediscovery(ctx, coord)
		})
	}

	eg.Go(func() error {
		return metricsServer(ctx, coord, cfg.MetricsAddr)
	})

	return eg.Wait()
}

// publishLoop pushes the latest snapshot to the registered sinks once per
// scan interval. Value-change suppression lives in the registry, so ticking
// faster than the device updates costs nothing.
func publishLoop(ctx context.Context, coord coordinator, registry *publisher.Registry, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			snap, state := coord.Latest()
			if state != poller.StateReady && state != poller.StateDegraded {
				continue
			}
			if err := registry.Publish(snap); err != nil {
				zap.L().Error("publish failed", zap.Error(err))
			}
		}
	}
}

// cronRediscovery refreshes the cloud device binding once a day. Devices get
// re-registered to other plants rarely but it does happen, and a stale serial
// polls into the void.
func cronRediscovery(ctx context.Context, coord coordinator) error {
	c := cron.New()
	if _, err := c.AddFunc("0 3 * * *", func() {
		coord.Rediscover()
		zap.L().Info("scheduled device rediscovery")
	}); err != nil {
		return err
	}
	c.Start()
	defer c.Stop()
	<-ctx.Done()
	return ctx.Err()
}

func metricsServer(ctx context.Context, coord coordinator, addr string) error {
	reg := prometheus.NewRegistry()
	if err := reg.Register(metrics.NewCollector(coord)); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, state := coord.Latest()
		if state == poller.StateDegraded {
			http.Error(w, string(state), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Handler:      mux,
		Addr:         addr,
		WriteTimeout: 15 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
