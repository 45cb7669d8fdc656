package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/gazette-archiver/internal/gazette"
)

// PubSub publishes each message to the topic configured for its stage.
type PubSub struct {
	client     *pubsub.Client
	topics     map[gazette.Stage]*pubsub.Topic
	ownsClient bool
}

// NewPubSub creates a Pub/Sub client for projectID and resolves the stage topics.
func NewPubSub(ctx context.Context, projectID string, topics map[gazette.Stage]string) (*PubSub, error) {
	if projectID == "" {
		return nil, fmt.Errorf("pubsub project id is required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	p, err := NewPubSubWithClient(client, topics)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.ownsClient = true
	return p, nil
}

// NewPubSubWithClient wraps an existing client. Stages without a topic are rejected on Dispatch.
func NewPubSubWithClient(client *pubsub.Client, topics map[gazette.Stage]string) (*PubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	p := &PubSub{client: client, topics: make(map[gazette.Stage]*pubsub.Topic, len(topics))}
	for stage, id := range topics {
		if id == "" {
			continue
		}
		p.topics[stage] = client.Topic(id)
	}
	if len(p.topics) == 0 {
		return nil, fmt.Errorf("at least one pubsub topic is required")
	}
	return p, nil
}

// Dispatch publishes msg as JSON and waits for the server to acknowledge it.
func (p *PubSub) Dispatch(ctx context.Context, msg gazette.Message) error {
	topic, ok := p.topics[msg.Stage]
	if !ok {
		return fmt.Errorf("no topic for stage %q", msg.Stage)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"stage": string(msg.Stage)},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending publishes and closes the client when owned.
func (p *PubSub) Close() error {
	for _, t := range p.topics {
		t.Stop()
	}
	if !p.ownsClient {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub client: %w", err)
	}
	return nil
}
