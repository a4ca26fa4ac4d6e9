package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"token-reallocator/allocator"
	"token-reallocator/api"
	"token-reallocator/config"
	"token-reallocator/health"
	"token-reallocator/metrics"
	"token-reallocator/queues"
	qkafka "token-reallocator/queues/kafka"
	qpubsub "token-reallocator/queues/pubsub"
	"token-reallocator/stats"
	"token-reallocator/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var version = "source"

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		return
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

type feedbackSubscriber interface {
	queues.Subscriber
	Close() error
}

type planPublisher interface {
	queues.Publisher
	Close() error
}

func newFeedbackSubscriber(cfg *config.Config) feedbackSubscriber {
	switch cfg.FeedbackBackend {
	case config.BackendPubsub:
		if cfg.GoogleProjectID == "" || cfg.FeedbackSubscription == "" {
			log.Fatal().Msg("pubsub feedback backend needs GOOGLE_PROJECT_ID and FEEDBACK_SUBSCRIPTION")
		}
		return qpubsub.NewSubscriber(cfg.GoogleProjectID, cfg.FeedbackSubscription, cfg.CredentialsFile)
	case config.BackendKafka:
		if len(cfg.KafkaBrokers) == 0 {
			log.Fatal().Msg("kafka feedback backend needs KAFKA_BROKERS")
		}
		return qkafka.NewSubscriber(cfg.KafkaBrokers, cfg.KafkaFeedbackTopic, cfg.KafkaGroupID)
	}
	return nil
}

func newPlanPublisher(cfg *config.Config) planPublisher {
	switch {
	case cfg.PlanEventsTopic != "" && cfg.GoogleProjectID != "":
		return qpubsub.NewPublisher(cfg.GoogleProjectID, cfg.PlanEventsTopic, cfg.CredentialsFile)
	case cfg.KafkaPlanEventsTopic != "" && len(cfg.KafkaBrokers) > 0:
		return qkafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaPlanEventsTopic)
	}
	return nil
}

func main() {
	cfg := config.Load()
	setLogger(cfg.LogLevel)
	log.Info().Msgf("Starting token-reallocator version: %s", version)
	log.Info().Interface("config", cfg.Redacted()).Msg("config loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mem := store.NewMemory()
	if cfg.LineItemsFile != "" {
		if _, err := mem.LoadLineItemsFile(cfg.LineItemsFile); err != nil {
			log.Fatal().Err(err).Str("path", cfg.LineItemsFile).Msg("failed to load line items")
		}
	} else {
		log.Warn().Msg("LINE_ITEMS_FILE not set; no line items will be allocated")
	}

	holder := stats.NewHolder()
	collector := stats.NewCollector(holder, cfg.StatsRetention)

	// Only hand the scheduler a publisher when one is configured; a typed nil would not compare equal to nil.
	var publisher queues.Publisher
	pp := newPlanPublisher(cfg)
	if pp != nil {
		publisher = pp
		defer func() {
			if err := pp.Close(); err != nil {
				log.Error().Err(err).Msg("plan publisher close failed")
			}
		}()
	}

	scheduler := allocator.NewScheduler(allocator.SchedulerConfig{
		InitialDelay:     cfg.InitialDelay,
		Period:           cfg.Period,
		ExpiryHorizon:    cfg.LineItemExpiryHorizon,
		HostActiveWindow: cfg.HostActiveWindow,
		PlanFreshness:    cfg.PlanFreshnessWindow,
		BatchSize:        cfg.BatchSize,
	}, allocator.NewAlgorithm(cfg.NonAdjustableSharePercent), mem, mem, mem, holder, publisher)

	apiServer := api.NewServer(api.Config{
		HostActiveWindow: cfg.HostActiveWindow,
		ExpiryHorizon:    cfg.LineItemExpiryHorizon,
	}, mem, collector, allocator.NewDistributor(nil))

	mux := http.NewServeMux()
	metrics.Register(mux)
	health.Register(mux, scheduler.Ready)
	mux.Handle("/api/", api.Handler(apiServer))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting api/metrics/health server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	if sub := newFeedbackSubscriber(cfg); sub != nil {
		defer func() {
			if err := sub.Close(); err != nil {
				log.Error().Err(err).Msg("feedback subscriber close failed")
			}
		}()
		go func() {
			log.Info().Str("backend", cfg.FeedbackBackend).Msg("starting feedback subscriber loop")
			if err := sub.Start(ctx, func(_ context.Context, batch *queues.FeedbackBatch) error {
				collector.Add(batch.Reports(time.Now())...)
				return nil
			}); err != nil {
				// Non-recoverable: without feedback the planner only ever serves frozen weights
				log.Fatal().Err(err).Msg("feedback subscriber exited with fatal error; shutting down")
			}
		}()
	} else {
		log.Info().Msg("no feedback backend configured; accepting feedback over HTTP only")
	}

	go collector.Run(ctx, cfg.StatsRefreshPeriod)
	go scheduler.Run(ctx)

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server graceful shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
