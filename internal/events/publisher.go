// Package events implements the Event Publisher (spec.md §4.8/§6.2,
// component C8): delivers structured progress events to the gateway's
// internal endpoint, serialized per (session_id, turn_id) so on-the-wire
// order matches emission order without blocking unrelated turns. Adapted
// from the teacher's bus.EventPublisher interface (internal/bus/types.go)
// and the per-client send-loop fan-out shape of internal/gateway/server.go.
package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codial-ai/codial-core/pkg/codial"
)

// Publisher delivers codial.StreamEvent values to
// {baseURL}/internal/stream-events.
type Publisher struct {
	baseURL string
	token   string
	client  *http.Client

	mu      sync.Mutex
	workers map[string]*turnWorker
}

type turnWorker struct {
	ch   chan codial.StreamEvent
	done chan struct{}
}

// New constructs a Publisher targeting baseURL with the shared internal
// token (spec.md §6.2).
func New(baseURL, token string) *Publisher {
	return &Publisher{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
		workers: make(map[string]*turnWorker),
	}
}

func workerKey(sessionID, turnID string) string { return sessionID + "\x00" + turnID }

// Publish enqueues ev for delivery on its (session_id, turn_id)'s
// dedicated fan-out worker, creating the worker lazily. Delivery is
// fire-and-forget from the caller's perspective but blocks within the
// worker until sent, guaranteeing on-wire order (spec.md §5 backpressure
// notes: "the publisher blocks within the turn's lifetime").
func (p *Publisher) Publish(ev codial.StreamEvent) {
	key := workerKey(ev.SessionID, ev.TurnID)

	p.mu.Lock()
	w, ok := p.workers[key]
	if !ok {
		w = &turnWorker{ch: make(chan codial.StreamEvent, 32), done: make(chan struct{})}
		p.workers[key] = w
		go p.run(key, w)
	}
	p.mu.Unlock()

	select {
	case w.ch <- ev:
	case <-w.done:
		slog.Warn("events.publish.worker_closed", "session_id", ev.SessionID, "turn_id", ev.TurnID, "type", ev.Type)
	}
}

func (p *Publisher) run(key string, w *turnWorker) {
	for ev := range w.ch {
		if err := p.deliver(context.Background(), ev); err != nil {
			slog.Warn("events.publish.failed", "session_id", ev.SessionID, "turn_id", ev.TurnID, "type", ev.Type, "error", err)
		}
	}
	close(w.done)
}

// CloseTurn tears down the fan-out worker for (sessionID, turnID) once the
// engine invocation for that turn has returned (spec.md's "per-(session,
// turn) fan-out worker... created lazily, torn down when the turn's engine
// invocation returns").
func (p *Publisher) CloseTurn(sessionID, turnID string) {
	key := workerKey(sessionID, turnID)
	p.mu.Lock()
	w, ok := p.workers[key]
	if ok {
		delete(p.workers, key)
	}
	p.mu.Unlock()
	if ok {
		close(w.ch)
	}
}

// deliver POSTs ev to the gateway, retrying transport/5xx failures with
// exponential backoff + jitter; a 4xx response is terminal (no retry) and
// logged, per spec.md §4.8.
func (p *Publisher) deliver(ctx context.Context, ev codial.StreamEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(3*time.Second),
		backoff.WithMaxElapsedTime(10*time.Second),
	), 5)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/internal/stream-events", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-internal-token", p.token)

		resp, err := p.client.Do(req)
		if err != nil {
			return err // transport failure: retryable
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("gateway returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("gateway returned %d", resp.StatusCode))
		}
	}

	return backoff.Retry(op, backoff.WithContext(policy, ctx))
}
