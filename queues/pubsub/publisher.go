package pubsub

import (
	"context"
	"encoding/json"

	"token-reallocator/queues"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

type Publisher struct {
	projectID string
	topicName string
	credsFile string
	client    *gpubsub.Client
	topic     *gpubsub.Topic
}

func NewPublisher(projectID, topicName, credsFile string) *Publisher {
	return &Publisher{projectID: projectID, topicName: topicName, credsFile: credsFile}
}

func (p *Publisher) PublishPlanCommitted(ctx context.Context, ev *queues.PlanCommitted) error {
	if p.client == nil {
		var (
			client *gpubsub.Client
			err    error
		)
		if p.credsFile != "" {
			log.Debug().Str("projectID", p.projectID).Str("topic", p.topicName).Str("credsFile", p.credsFile).Msg("initializing pubsub publisher with explicit credentials")
			client, err = gpubsub.NewClient(ctx, p.projectID, option.WithCredentialsFile(p.credsFile))
		} else {
			log.Debug().Str("projectID", p.projectID).Str("topic", p.topicName).Msg("initializing pubsub publisher with default credentials")
			client, err = gpubsub.NewClient(ctx, p.projectID)
		}
		if err != nil {
			log.Error().Err(err).Str("projectID", p.projectID).Str("topic", p.topicName).Msg("failed to create pubsub client for publisher")
			return err
		}
		p.client = client
		p.topic = client.Topic(p.topicName)
		log.Info().Str("topic", p.topicName).Msg("pubsub publisher initialized")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Interface("event", ev).Msg("failed to marshal plan-committed event")
		return err
	}
	// Publish and wait for server ack
	r := p.topic.Publish(ctx, &gpubsub.Message{Data: b, Attributes: map[string]string{"type": ev.Type}})
	id, err := r.Get(ctx)
	if err != nil {
		log.Error().Err(err).Str("cycleId", ev.CycleID).Msg("failed to publish plan-committed event")
		return err
	}
	log.Debug().Str("messageID", id).Str("cycleId", ev.CycleID).Int("hosts", ev.Hosts).Msg("published plan-committed event")
	return nil
}

func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
