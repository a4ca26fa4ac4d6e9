package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"token-reallocator/metrics"
	"token-reallocator/queues"

	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

// messageReader mirrors the subset of kafka.Reader the subscriber uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Subscriber struct {
	reader  messageReader
	topic   string
	backoff time.Duration
}

func NewSubscriber(brokers []string, topic, groupID string) *Subscriber {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Subscriber{reader: r, topic: topic, backoff: time.Second}
}

// Start consumes feedback batches until ctx is done. Poison messages are committed
// and dropped; messages whose handler fails are left uncommitted.
func (s *Subscriber) Start(ctx context.Context, handler queues.FeedbackHandler) error {
	log.Info().Str("topic", s.topic).Msg("kafka subscriber started")
	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			log.Error().Err(err).Str("topic", s.topic).Msg("failed to fetch kafka message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.backoff):
			}
			continue
		}
		if s.handle(ctx, m, handler) {
			if err := s.reader.CommitMessages(ctx, m); err != nil {
				log.Error().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("failed to commit kafka message")
			}
		}
	}
}

// handle reports whether the message is done with and may be committed.
func (s *Subscriber) handle(ctx context.Context, m kafkago.Message, handler queues.FeedbackHandler) bool {
	var batch queues.FeedbackBatch
	if err := json.Unmarshal(m.Value, &batch); err != nil {
		log.Error().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("failed to unmarshal feedback batch")
		metrics.FeedbackMessagesTotal.WithLabelValues("kafka", "rejected").Inc()
		return true
	}
	if err := batch.Validate(); err != nil {
		log.Error().Err(err).Int64("offset", m.Offset).Msg("invalid feedback payload")
		metrics.FeedbackMessagesTotal.WithLabelValues("kafka", "rejected").Inc()
		return true
	}
	if batch.ReportedAt.IsZero() && !m.Time.IsZero() {
		batch.ReportedAt = m.Time
	}
	if err := handler(ctx, &batch); err != nil {
		log.Error().Err(err).Str("hostKey", string(batch.Host().Key())).Int64("offset", m.Offset).Msg("feedback handler failed; leaving uncommitted")
		metrics.FeedbackMessagesTotal.WithLabelValues("kafka", "failed").Inc()
		return false
	}
	metrics.FeedbackMessagesTotal.WithLabelValues("kafka", "accepted").Inc()
	return true
}

func (s *Subscriber) Close() error {
	return s.reader.Close()
}
