package pubsub

import (
	"context"
	"encoding/json"
	"time"

	"token-reallocator/metrics"
	"token-reallocator/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type Subscriber struct {
	projectID        string
	subscriptionName string
	credsFile        string
	client           *gpubsub.Client
	sub              *gpubsub.Subscription
}

func NewSubscriber(projectID, subscriptionName, credsFile string) *Subscriber {
	return &Subscriber{projectID: projectID, subscriptionName: subscriptionName, credsFile: credsFile}
}

func (s *Subscriber) Start(ctx context.Context, handler queues.FeedbackHandler) error {
	if s.client == nil {
		var (
			client *gpubsub.Client
			err    error
		)
		if s.credsFile != "" {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Str("credsFile", s.credsFile).Msg("initializing pubsub subscriber with explicit credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID, option.WithCredentialsFile(s.credsFile))
		} else {
			log.Debug().Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("initializing pubsub subscriber with default credentials")
			client, err = gpubsub.NewClient(ctx, s.projectID)
		}
		if err != nil {
			log.Error().Err(err).Str("projectID", s.projectID).Str("subscription", s.subscriptionName).Msg("failed to create pubsub client for subscriber")
			return err
		}
		s.client = client
		s.sub = client.Subscription(s.subscriptionName)
		log.Info().Str("subscription", s.subscriptionName).Msg("pubsub subscriber initialized")
	}

	// Receive blocks and invokes the callback from several goroutines; respect ctx cancellation
	return s.sub.Receive(ctx, func(ctx context.Context, m *gpubsub.Message) {
		log.Debug().Str("messageID", m.ID).Int("size", len(m.Data)).Msg("received pubsub message")
		recvAt := time.Now()
		var batch queues.FeedbackBatch
		if err := json.Unmarshal(m.Data, &batch); err != nil {
			log.Error().Err(err).Str("messageID", m.ID).Msg("failed to unmarshal feedback batch")
			metrics.FeedbackMessagesTotal.WithLabelValues("pubsub", "rejected").Inc()
			// Ack to drop bad message (poison)
			m.Ack()
			return
		}
		if err := batch.Validate(); err != nil {
			log.Error().Err(err).Str("messageID", m.ID).Msg("invalid feedback payload")
			metrics.FeedbackMessagesTotal.WithLabelValues("pubsub", "rejected").Inc()
			m.Ack()
			return
		}

		if err := handler(ctx, &batch); err != nil {
			log.Error().Err(err).Str("hostKey", string(batch.Host().Key())).Msg("feedback handler failed; will retry")
			metrics.FeedbackMessagesTotal.WithLabelValues("pubsub", "failed").Inc()
			m.Nack()
			return
		}
		metrics.FeedbackMessagesTotal.WithLabelValues("pubsub", "accepted").Inc()
		log.Debug().Str("hostKey", string(batch.Host().Key())).Int("lineItems", len(batch.LineItems)).Dur("latency", time.Since(recvAt)).Msg("feedback accepted; acking message")
		m.Ack()
	})
}

func (s *Subscriber) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
