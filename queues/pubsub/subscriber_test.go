package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"token-reallocator/queues"

	"cloud.google.com/go/pubsub"
)

func TestSubscriber_Start(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}

	ctx := context.Background()
	client, _ := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "feedback")
	if err != nil {
		t.Fatalf("create topic: %#v", err)
	}
	sub, err := client.CreateSubscription(ctx, "feedback-sub", pubsub.SubscriptionConfig{Topic: topic, AckDeadline: 10 * time.Second})
	if err != nil {
		t.Fatalf("create subscription: %#v", err)
	}

	valid, _ := json.Marshal(queues.FeedbackBatch{
		EnvelopeVersion: "1.0", Type: "feedback", Vendor: "v", Region: "r", InstanceID: "i",
		LineItems: []queues.FeedbackReport{{BidderCode: "b", LineItemID: "1", TargetsMatched: 12}},
	})
	invalid, _ := json.Marshal(queues.FeedbackBatch{Vendor: "v"})
	for _, data := range [][]byte{[]byte("{not json"), invalid, valid} {
		if _, err := topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx); err != nil {
			t.Fatalf("publish: %#v", err)
		}
	}

	recvCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		got []*queues.FeedbackBatch
	)
	s := &Subscriber{projectID: "test-project", subscriptionName: "feedback-sub", client: client, sub: sub}
	err = s.Start(recvCtx, func(_ context.Context, b *queues.FeedbackBatch) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, b)
		cancel()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() err=%#v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("handled batches got=%d want=1", len(got))
	}
	if got[0].InstanceID != "i" || len(got[0].LineItems) != 1 || got[0].LineItems[0].TargetsMatched != 12 {
		t.Errorf("handled batch mismatch: %#v", got[0])
	}
}
