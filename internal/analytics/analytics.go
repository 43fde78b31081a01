package analytics

import (
	"log"

	"github.com/posthog/posthog-go"
)

// Tracker sends job lifecycle events to PostHog. With no API key configured
// every call is a no-op, so callers never need to nil-check.
type Tracker struct {
	client     posthog.Client
	distinctID string
}

// New creates a tracker. An empty apiKey disables tracking.
func New(apiKey, endpoint, distinctID string) *Tracker {
	t := &Tracker{distinctID: distinctID}
	if apiKey == "" {
		return t
	}

	cfg := posthog.Config{}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	client, err := posthog.NewWithConfig(apiKey, cfg)
	if err != nil {
		log.Printf("[Analytics] Failed to initialize PostHog: %v", err)
		return t
	}
	t.client = client
	return t
}

// Track enqueues one event
func (t *Tracker) Track(event string, props map[string]interface{}) {
	if t.client == nil {
		return
	}
	t.client.Enqueue(posthog.Capture{
		DistinctId: t.distinctID,
		Event:      event,
		Properties: props,
	})
}

// Close flushes pending events
func (t *Tracker) Close() {
	if t.client != nil {
		t.client.Close()
	}
}
