package announce

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"qms/queueflow-service/internal/hub"
)

type ProviderOptions struct {
	WebhookURL   string
	WebhookToken string
	Hub          *hub.Hub
	AMQP         *AMQPAnnouncer
}

// NewProvider resolves a provider name from configuration. Unknown or
// unconfigured providers fall back to logging.
func NewProvider(kind string, opts ProviderOptions) Announcer {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "stub", "log":
		return logProvider{}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "hub", "display":
		if opts.Hub == nil {
			return logProvider{}
		}
		return hubProvider{hub: opts.Hub}
	case "amqp", "rabbitmq":
		if opts.AMQP == nil {
			return logProvider{}
		}
		return opts.AMQP
	case "webhook":
		if opts.WebhookURL == "" {
			return logProvider{}
		}
		return webhookProvider{url: opts.WebhookURL, token: opts.WebhookToken}
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return webhookProvider{url: kind}
		}
		return logProvider{}
	}
}

func NewProviders(kinds []string, opts ProviderOptions) Multi {
	var out Multi
	for _, kind := range kinds {
		out = append(out, NewProvider(kind, opts))
	}
	if len(out) == 0 {
		out = append(out, logProvider{})
	}
	return out
}

type logProvider struct{}

func (logProvider) Announce(ctx context.Context, call Call) error {
	log.Printf("announce type=%s label=%s counter=%d text=%q", call.EventType(), call.Label, call.CounterID, call.Text)
	return nil
}

func (logProvider) AlertPriority(ctx context.Context, call Call) error {
	log.Printf("announce type=%s label=%s counter=%d", EventPriorityAlert, call.Label, call.CounterID)
	return nil
}

type noopProvider struct{}

func (noopProvider) Announce(ctx context.Context, call Call) error      { return nil }
func (noopProvider) AlertPriority(ctx context.Context, call Call) error { return nil }

type failProvider struct{}

func (failProvider) Announce(ctx context.Context, call Call) error {
	return errors.New("provider failure")
}

func (failProvider) AlertPriority(ctx context.Context, call Call) error {
	return errors.New("provider failure")
}

type hubProvider struct {
	hub *hub.Hub
}

func (p hubProvider) Announce(ctx context.Context, call Call) error {
	return p.broadcast(call.EventType(), call)
}

func (p hubProvider) AlertPriority(ctx context.Context, call Call) error {
	return p.broadcast(EventPriorityAlert, call)
}

func (p hubProvider) broadcast(eventType string, call Call) error {
	payload, err := encodeEvent(eventType, call)
	if err != nil {
		return err
	}
	p.hub.Broadcast(payload, call.CounterID)
	return nil
}

type webhookProvider struct {
	url   string
	token string
}

func (p webhookProvider) Announce(ctx context.Context, call Call) error {
	return p.post(ctx, call.EventType(), call)
}

func (p webhookProvider) AlertPriority(ctx context.Context, call Call) error {
	return p.post(ctx, EventPriorityAlert, call)
}

func (p webhookProvider) post(ctx context.Context, eventType string, call Call) error {
	body, err := encodeEvent(eventType, call)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}
