// Package pubsub announces finished runs on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

// Config identifies the topic.
type Config struct {
	ProjectID string
	Topic     string
}

// Notifier publishes a RunSummary as JSON with run attributes.
type Notifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New dials Pub/Sub and binds the configured topic.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Notifier, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("pubsub.project_id and pubsub.topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Notifier{client: client, topic: client.Topic(cfg.Topic)}, nil
}

// NewWithTopic wraps an existing topic handle.
func NewWithTopic(topic *pubsub.Topic) *Notifier {
	return &Notifier{topic: topic}
}

// Notify implements scrape.Notifier.
func (n *Notifier) Notify(ctx context.Context, summary scrape.RunSummary) (string, error) {
	if n.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id":    summary.RunID,
			"failed":    strconv.Itoa(summary.Failed),
			"forbidden": strconv.Itoa(summary.Forbidden),
		},
	}
	id, err := n.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client.
func (n *Notifier) Close() error {
	if n.topic != nil {
		n.topic.Stop()
	}
	if n.client != nil {
		return n.client.Close()
	}
	return nil
}
