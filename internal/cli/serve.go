package cli

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"challenge-core/internal/api"
	"challenge-core/internal/events"
	"challenge-core/internal/monitor"
	"challenge-core/internal/notify"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the account monitors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	prov, err := buildProvider(cfg, store, log)
	if err != nil {
		return err
	}
	eval, err := buildEvaluator(cfg)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	bus := events.NewBus()
	notifier := notify.Multi{
		notify.NewLog(log),
		notify.NewSinkNotifier(notify.NewBusSink(bus)),
	}

	registry := monitor.NewRegistry(monitorConfig(cfg), monitor.Deps{
		Store:     store,
		Provider:  prov,
		Evaluator: eval,
		Notifier:  notifier,
		Telemetry: monitor.NewTelemetry(promReg),
		Logger:    log,
		Events:    bus,
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(api.Options{
		Monitors:   registry,
		History:    store,
		Bus:        bus,
		JWTSecret:  cfg.JWTSecret,
		Registerer: promReg,
		Gatherer:   promReg,
		Logger:     log,
		Version:    Version,
	})
	httpSrv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.KafkaBrokers) > 0 {
		sink := notify.NewKafkaSink(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, log)
		defer sink.Close()
		relay := &notify.Relay{
			Bus:    bus,
			Sink:   sink,
			Topics: []events.Event{events.EventViolation, events.EventChallengeFailed, events.EventTargetReached},
			Buffer: 1024,
			Logger: log,
		}
		g.Go(func() error {
			relay.Run(gctx)
			return nil
		})
		log.Info("kafka notifications enabled", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	g.Go(func() error {
		log.Info("http listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	if cfg.ResumeOnStart {
		n, err := registry.Resume(gctx)
		if err != nil {
			log.Error("resume monitors", zap.Error(err))
		} else {
			log.Info("monitors resumed", zap.Int("count", n))
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		log.Info("shutting down", zap.Int("active_monitors", registry.ActiveCount()))
		herr := httpSrv.Shutdown(sctx)
		merr := registry.StopAll(sctx)
		if herr != nil {
			return errors.Wrap(herr, "http shutdown")
		}
		return errors.Wrap(merr, "stop monitors")
	})

	return g.Wait()
}
