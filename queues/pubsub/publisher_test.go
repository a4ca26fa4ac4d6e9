package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"token-reallocator/queues"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial error: %#v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("client error: %#v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

type args struct {
	ev *queues.PlanCommitted
}

type test struct {
	name    string
	setup   func() *Publisher
	args    args
	wantErr bool
}

func TestPublisher_PublishPlanCommitted(t *testing.T) {
	if testing.Short() {
		t.Skip("short")
	}

	ctx := context.Background()
	client, srv := newTestClient(t)

	tests := []test{
		{
			name: "success",
			setup: func() *Publisher {
				topic, err := client.CreateTopic(ctx, "plan-events")
				if err != nil {
					t.Fatalf("create topic: %#v", err)
				}
				// Build publisher with injected client/topic
				return &Publisher{projectID: "test-project", topicName: "plan-events", client: client, topic: topic}
			},
			args:    args{ev: &queues.PlanCommitted{EnvelopeVersion: "1.0", Type: "plan-committed", CycleID: "c1", Hosts: 3, LineItems: 2, CommittedAt: time.Unix(100, 0).UTC()}},
			wantErr: false,
		},
		{
			name: "missing topic error",
			setup: func() *Publisher {
				// Get handle to non-existent topic
				topic := client.Topic("missing-topic")
				return &Publisher{projectID: "test-project", topicName: "missing-topic", client: client, topic: topic}
			},
			args:    args{ev: &queues.PlanCommitted{EnvelopeVersion: "1.0", Type: "plan-committed", CycleID: "c2"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.setup()
			err := p.PublishPlanCommitted(ctx, tt.args.ev)
			gotErr := (err != nil)
			if gotErr != tt.wantErr {
				t.Errorf("PublishPlanCommitted() error mismatch\ngotErr: %#v\nwantErr: %#v\nerr: %#v", gotErr, tt.wantErr, err)
			}
		})
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("published messages got=%d want=1", len(msgs))
	}
	var got queues.PlanCommitted
	if err := json.Unmarshal(msgs[0].Data, &got); err != nil {
		t.Fatalf("unmarshal published event: %#v", err)
	}
	if got.CycleID != "c1" || got.Hosts != 3 || msgs[0].Attributes["type"] != "plan-committed" {
		t.Errorf("published event mismatch: %#v attrs=%#v", got, msgs[0].Attributes)
	}
}
