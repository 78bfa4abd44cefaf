package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/es-push/internal/action"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/bulk"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/codec"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/extract"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/push"
	"github.com/Adithya-Monish-Kumar-K/es-push/internal/push/errhandler"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/es-push/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("es-push stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("es-push stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jsonCodec := codec.NewJSON()
	codecs := extract.Codecs{
		Binary:   codec.NewBinary(),
		JSON:     jsonCodec,
		Document: jsonCodec,
	}
	router, err := push.NewRouter(cfg, codecs)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	// errs is set below, before the loader runs.
	var errs *errhandler.Handler
	loader := bulk.New(bulk.Config{
		URL:            cfg.Elasticsearch.URL,
		MaxActions:     cfg.Elasticsearch.BulkFlushMaxActions,
		MaxBuffered:    cfg.Elasticsearch.BulkMaxBufferedActions,
		FlushInterval:  cfg.Elasticsearch.BulkFlushInterval,
		RequestTimeout: cfg.Elasticsearch.RequestTimeout,
		Retry: resilience.RetryConfig{
			MaxAttempts:  cfg.Elasticsearch.Retry.MaxAttempts,
			InitialDelay: cfg.Elasticsearch.Retry.InitialDelay,
			MaxDelay:     cfg.Elasticsearch.Retry.MaxDelay,
		},
		Breaker: resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Elasticsearch.CircuitBreaker.FailureThreshold,
			ResetTimeout:     cfg.Elasticsearch.CircuitBreaker.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				m.SetBreakerState(name, int(to))
			},
		},
		OnFlush: func(r bulk.Report) {
			m.ObserveFlush(r.Err == nil, r.Latency.Seconds(), r.Succeeded, r.Conflicts, r.Failed)
		},
		OnReject: func(ctx context.Context, op *action.WriteOperation, err error) error {
			return errs.HandleRejectedWrite(ctx, op, err)
		},
	})

	checker := health.NewChecker()
	checker.Register("elasticsearch", health.PingCheck(loader.Ping, false))

	var deadLetter errhandler.Publisher
	if cfg.Errors.DeadLetterTopic != "" {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Errors.DeadLetterTopic)
		defer producer.Close()
		deadLetter = producer
	}
	var audit errhandler.Auditor
	if cfg.Errors.AuditEnabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		defer db.Close()
		store, err := errhandler.NewAuditStore(ctx, db)
		if err != nil {
			return err
		}
		audit = store
		checker.Register("postgres", health.PingCheck(db.Ping, true))
	}
	errs = errhandler.New(cfg.Errors, deadLetter, audit)

	handler := push.NewHandler(router, loader, errs, m)
	topics := cfg.InputTopics()
	consumer := kafka.NewConsumer(cfg.Kafka, topics, handler.HandleMessage)
	defer consumer.Close()

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		checker.Mount(mux)
		shutdown := metrics.StartServer(cfg.Metrics.Port, middleware.Chain(mux,
			middleware.Metrics(m),
			middleware.Timeout(8*time.Second),
		))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	slog.Info("es-push ready",
		"topics", topics,
		"group", cfg.Kafka.ConsumerGroup,
		"drop_on_error", cfg.Errors.DropOnError,
	)

	// The loader gets its own context so it can drain after the consumer
	// has halted.
	loaderCtx, stopLoader := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopLoader()
		return consumer.Start(gctx)
	})
	g.Go(func() error {
		return loader.Run(loaderCtx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-loaderCtx.Done():
				return nil
			case <-ticker.C:
				m.BulkPending.Set(float64(loader.BufferLen()))
			}
		}
	})
	return g.Wait()
}
