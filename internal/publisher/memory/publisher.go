// Package memory records run announcements in process memory for tests and
// local runs without a broker.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jjjenkim/fis-results-scraper/internal/scrape"
)

// RunsTopic is the topic Notify publishes to.
const RunsTopic = "fis-runs"

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Notify implements scrape.Notifier.
func (p *Publisher) Notify(ctx context.Context, summary scrape.RunSummary) (string, error) {
	return p.Publish(ctx, RunsTopic, summary)
}

// Summaries returns the run summaries announced so far.
func (p *Publisher) Summaries() []scrape.RunSummary {
	var out []scrape.RunSummary
	for _, m := range p.Messages() {
		if s, ok := m.Payload.(scrape.RunSummary); ok {
			out = append(out, s)
		}
	}
	return out
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
