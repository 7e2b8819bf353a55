package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/theblitlabs/parity-flsim/internal/config"
	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/internal/core/ports"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

const (
	messageTypeRound = "round"
	defaultQueueSize = 16
)

var (
	ErrQueueFull = errors.New("webhook queue full")
	ErrClosed    = errors.New("webhook notifier closed")
)

type WebhookMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Notifier posts every round summary to an external webhook. Deliveries
// run on a background worker so a slow or unreachable endpoint never holds
// up training.
type Notifier struct {
	url         string
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration
	log         zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.RoundSummary
	done   chan struct{}
	cancel context.CancelFunc
}

var _ ports.RoundRecorder = (*Notifier)(nil)

// NewNotifier starts the delivery worker. Close stops it.
func NewNotifier(cfg config.WebhookConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		url: cfg.URL,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:       100,
				IdleConnTimeout:    90 * time.Second,
				DisableCompression: true,
			},
		},
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		maxBackoff:  cfg.MaxBackoff,
		log:         logger.WithComponent("webhook"),
		queue:       make(chan models.RoundSummary, size),
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	go n.run(ctx)
	return n
}

func (n *Notifier) run(ctx context.Context) {
	defer close(n.done)
	for summary := range n.queue {
		if err := n.Deliver(ctx, summary); err != nil {
			n.log.Warn().Err(err).Int("round", summary.Round).Msg("Round notification dropped")
		}
	}
}

// RecordRound queues the summary for delivery and returns without waiting
// for the webhook. A full queue drops the summary.
func (n *Notifier) RecordRound(_ context.Context, summary models.RoundSummary) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return ErrClosed
	}
	select {
	case n.queue <- summary:
		return nil
	default:
		return fmt.Errorf("round %d: %w", summary.Round, ErrQueueFull)
	}
}

// Close stops accepting summaries and waits for the queued ones to be
// delivered. When ctx ends first, pending deliveries are abandoned.
func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()

	select {
	case <-n.done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-n.done
		return ctx.Err()
	}
}

// Deliver posts the summary, retrying with a linear backoff capped at
// maxBackoff
func (n *Notifier) Deliver(ctx context.Context, summary models.RoundSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal round summary: %w", err)
	}
	body, err := json.Marshal(WebhookMessage{Type: messageTypeRound, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * n.baseBackoff
			if n.maxBackoff > 0 && backoff > n.maxBackoff {
				backoff = n.maxBackoff
			}
			n.log.Debug().
				Err(lastErr).
				Int("round", summary.Round).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Webhook delivery failed, retrying")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if lastErr = n.send(ctx, body); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", n.maxRetries+1, lastErr)
}

func (n *Notifier) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ParityFLSim/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
