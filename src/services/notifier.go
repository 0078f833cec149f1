package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/keygate/keygate-server/src/logging"
	"github.com/keygate/keygate-server/src/metrics"
	"github.com/keygate/keygate-server/src/models"
)

// Notifier publishes key creation notifications. Implementations must not
// block the caller.
type Notifier interface {
	KeyCreated(rec *models.KeyRecord)
}

// NoopNotifier discards notifications
type NoopNotifier struct{}

// KeyCreated implements Notifier
func (NoopNotifier) KeyCreated(*models.KeyRecord) {}

// WebhookNotifier posts creation notices to a chat webhook from a single
// worker. A full queue drops notices, as does an empty URL.
type WebhookNotifier struct {
	url        atomic.Pointer[string]
	httpClient *http.Client
	queue      chan *models.KeyRecord
	limiter    *rate.Limiter
	logger     zerolog.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewWebhookNotifier creates a notifier; call Start to begin delivery.
// Webhook endpoints allow a few posts per second, so delivery is throttled.
func NewWebhookNotifier(url string, queueSize int) *WebhookNotifier {
	if queueSize < 1 {
		queueSize = 100
	}
	n := &WebhookNotifier{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan *models.KeyRecord, queueSize),
		limiter:    rate.NewLimiter(rate.Limit(2), 5),
		logger:     logging.NewLogger("notifier"),
		stopCh:     make(chan struct{}),
	}
	n.SetURL(url)
	return n
}

// SetURL switches the webhook target. Empty disables delivery.
func (n *WebhookNotifier) SetURL(url string) {
	n.url.Store(&url)
}

// URL returns the current webhook target.
func (n *WebhookNotifier) URL() string {
	return *n.url.Load()
}

// KeyCreated enqueues rec without blocking.
func (n *WebhookNotifier) KeyCreated(rec *models.KeyRecord) {
	if n.URL() == "" {
		return
	}
	select {
	case n.queue <- rec.Clone():
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		n.logger.Warn().Str("key", rec.Key).Msg("Notification queue full, dropping")
	}
}

// Start launches the delivery worker
func (n *WebhookNotifier) Start(ctx context.Context) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-n.stopCh:
				return
			case rec := <-n.queue:
				if err := n.limiter.Wait(ctx); err != nil {
					return
				}
				n.deliver(ctx, rec)
			}
		}
	}()
	n.logger.Info().Msg("Notifier started")
}

// Stop stops the worker; queued notices are discarded.
func (n *WebhookNotifier) Stop() {
	n.stopOnce.Do(func() { close(n.stopCh) })
	n.wg.Wait()
}

type webhookPayload struct {
	Content string `json:"content"`
}

func (n *WebhookNotifier) deliver(ctx context.Context, rec *models.KeyRecord) {
	target := n.URL()
	if target == "" {
		return
	}
	expires := "never"
	if rec.ExpiresAt != nil {
		expires = rec.ExpiresAt.UTC().Format(time.RFC3339)
	}
	body, _ := json.Marshal(webhookPayload{
		Content: fmt.Sprintf("New key %s (%s), expires %s", rec.Key, rec.Source, expires),
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		n.logger.Error().Err(err).Msg("Failed to build notification request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		n.logger.Warn().Err(err).Str("key", rec.Key).Msg("Notification delivery failed")
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		n.logger.Warn().Int("status", resp.StatusCode).Str("key", rec.Key).Msg("Notification rejected")
		return
	}
	metrics.NotificationsTotal.WithLabelValues("sent").Inc()
}
