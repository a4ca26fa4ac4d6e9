package kafka

import (
	"context"
	"encoding/json"

	"token-reallocator/queues"

	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"
)

// messageWriter mirrors the subset of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
	topic  string
}

func NewPublisher(brokers []string, topic string) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, topic: topic}
}

func (p *Publisher) PublishPlanCommitted(ctx context.Context, ev *queues.PlanCommitted) error {
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Interface("event", ev).Msg("failed to marshal plan-committed event")
		return err
	}
	msg := kafkago.Message{
		Key:     []byte(ev.CycleID),
		Value:   b,
		Headers: []kafkago.Header{{Key: "type", Value: []byte(ev.Type)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		log.Error().Err(err).Str("topic", p.topic).Str("cycleId", ev.CycleID).Msg("failed to publish plan-committed event")
		return err
	}
	log.Debug().Str("topic", p.topic).Str("cycleId", ev.CycleID).Msg("published plan-committed event")
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
