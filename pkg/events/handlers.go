package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/relayops/cascadeguard/pkg/logging"
)

// LogHandler writes every event to the structured logger. Output is rate
// limited per source so a flapping breaker cannot flood the log stream.
type LogHandler struct {
	logger *logging.Logger

	mutex    sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	dropped  int64
}

// NewLogHandler creates a log handler with the default rate limit of
// 10 events per second per source, burst 50.
func NewLogHandler(logger *logging.Logger) *LogHandler {
	return NewLogHandlerWithLimit(logger, rate.Limit(10), 50)
}

// NewLogHandlerWithLimit creates a log handler with an explicit per-source
// rate limit.
func NewLogHandlerWithLimit(logger *logging.Logger, limit rate.Limit, burst int) *LogHandler {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LogHandler{
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Name returns the name of the handler
func (h *LogHandler) Name() string {
	return "logging"
}

// Dropped returns the number of events suppressed by rate limiting.
func (h *LogHandler) Dropped() int64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.dropped
}

func (h *LogHandler) allow(source string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	limiter, ok := h.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(h.limit, h.burst)
		h.limiters[source] = limiter
	}

	if !limiter.Allow() {
		h.dropped++
		return false
	}
	return true
}

// Handle logs the event at a severity appropriate to its kind.
func (h *LogHandler) Handle(ctx context.Context, event Event) error {
	if !h.allow(event.Source()) {
		return nil
	}

	switch e := event.(type) {
	case CircuitStateChanged:
		h.logger.LogStateChange(ctx, e.Breaker, e.From, e.To, logrus.Fields{
			"consecutive_failures": e.ConsecutiveFailures,
			"backoff_multiplier":   e.BackoffMultiplier,
		})
	case CallSucceeded:
		h.logger.Debug("Guarded call succeeded",
			"circuit_breaker", e.Breaker,
			"duration_ms", e.Duration.Milliseconds(),
		)
	case CallFailed:
		h.logger.Warn("Guarded call failed",
			"circuit_breaker", e.Breaker,
			"timeout", e.Timeout,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Err,
		)
	case RequestQueued:
		h.logger.Debug("Request queued",
			"circuit_breaker", e.Breaker,
			"priority", e.Priority,
			"queue_length", e.QueueLength,
		)
	case RequestRejected:
		h.logger.Warn("Request rejected",
			"circuit_breaker", e.Breaker,
			"reason", e.Reason,
			"priority", e.Priority,
		)
	case BulkheadSaturated:
		h.logger.Warn("Bulkhead saturated",
			"circuit_breaker", e.Breaker,
			"active", e.Active,
			"queued", e.Queued,
		)
	case DependencyRegistered:
		h.logger.LogDependencyEvent(ctx, "registered", e.Dependency, logrus.Fields{
			"priority": e.Priority,
		})
	case DependencyIsolated:
		h.logger.LogDependencyEvent(ctx, "isolated", e.Dependency, logrus.Fields{
			"reason": e.Reason,
		})
	case DependencyRecovered:
		h.logger.LogDependencyEvent(ctx, "recovered", e.Dependency, logrus.Fields{
			"manual":   e.Manual,
			"attempts": e.Attempts,
		})
	case RecoveryFailed:
		h.logger.Warn("Dependency recovery failed",
			"dependency", e.Dependency,
			"attempt", e.Attempt,
			"next_retry", e.NextRetry.String(),
			"error", e.Err,
		)
	case FallbackFailed:
		h.logger.Error("Fallback failed",
			"dependency", e.Dependency,
			"strategy", e.Strategy,
			"error", e.Err,
		)
	case SystemHealthChanged:
		h.logger.Info("System health changed",
			"overall_health", e.OverallHealth,
			"trend", e.Trend,
			"failed", e.Failed,
			"isolated", e.Isolated,
		)
	case EmergencyActivated:
		h.logger.LogEmergencyEvent(ctx, "emergency_activated", true, logrus.Fields{
			"reason":   e.Reason,
			"failed":   e.Failed,
			"isolated": e.Isolated,
		})
	case EmergencyDeactivated:
		h.logger.LogEmergencyEvent(ctx, "emergency_deactivated", false, nil)
	case HealthCheckCompleted:
		h.logger.Debug("Health check completed",
			"overall_health", e.OverallHealth,
			"healthy", e.Healthy,
			"total", e.Total,
		)
	default:
		h.logger.Info("Resilience event",
			"event", string(event.Kind()),
			"source", event.Source(),
		)
	}

	return nil
}

// WebhookConfig configures a WebhookHandler.
type WebhookConfig struct {
	// URL receives a JSON POST per event.
	URL string
	// Timeout bounds each delivery attempt. Defaults to 10s.
	Timeout time.Duration
	// Kinds filters delivery to the listed kinds. Empty means all kinds.
	Kinds []Kind
	// QueueSize bounds the delivery backlog. Defaults to 256. Events
	// published while the queue is full are dropped and counted.
	QueueSize int
}

// WebhookHandler posts events as JSON to an operator endpoint. Publishers
// can run inside a breaker's hot path, so Handle only enqueues; a single
// worker delivers in publish order. Call Close to drain and stop the worker.
type WebhookHandler struct {
	config     WebhookConfig
	kinds      map[Kind]bool
	httpClient *http.Client
	logger     *logging.Logger

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
	dropped   int64
}

type webhookPayload struct {
	Kind      Kind      `json:"kind"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Event     Event     `json:"event"`
	Error     string    `json:"error,omitempty"`
}

// NewWebhookHandler creates a webhook handler and starts its delivery
// worker.
func NewWebhookHandler(config WebhookConfig) (*WebhookHandler, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook URL not configured")
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}

	kinds := make(map[Kind]bool, len(config.Kinds))
	for _, k := range config.Kinds {
		kinds[k] = true
	}

	h := &WebhookHandler{
		config: config,
		kinds:  kinds,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logging.GetLogger(),
		queue:  make(chan Event, config.QueueSize),
		done:   make(chan struct{}),
	}
	go h.run()
	return h, nil
}

// Name returns the name of the handler
func (h *WebhookHandler) Name() string {
	return "webhook"
}

// Dropped returns the number of events discarded because the delivery queue
// was full.
func (h *WebhookHandler) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// Handle enqueues the event for delivery. It never blocks the publisher.
func (h *WebhookHandler) Handle(ctx context.Context, event Event) error {
	if len(h.kinds) > 0 && !h.kinds[event.Kind()] {
		return nil
	}

	select {
	case h.queue <- event:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
	return nil
}

// Close drains the queue, delivers what remains, and stops the worker.
func (h *WebhookHandler) Close() {
	h.closeOnce.Do(func() {
		close(h.queue)
		<-h.done
	})
}

func (h *WebhookHandler) run() {
	defer close(h.done)
	for event := range h.queue {
		if err := h.deliver(event); err != nil {
			h.logger.Warn("Webhook delivery failed",
				"event", string(event.Kind()),
				"source", event.Source(),
				"url", maskWebhookURL(h.config.URL),
				"error", err.Error(),
			)
		}
	}
}

func (h *WebhookHandler) deliver(event Event) error {
	body := webhookPayload{
		Kind:      event.Kind(),
		Source:    event.Source(),
		Timestamp: event.Time(),
		Event:     event,
	}
	switch e := event.(type) {
	case CallFailed:
		if e.Err != nil {
			body.Error = e.Err.Error()
		}
	case RecoveryFailed:
		if e.Err != nil {
			body.Error = e.Err.Error()
		}
	case FallbackFailed:
		if e.Err != nil {
			body.Error = e.Err.Error()
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", h.config.URL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	h.logger.Debug("Webhook delivered",
		"event", string(event.Kind()),
		"source", event.Source(),
		"url", maskWebhookURL(h.config.URL),
	)
	return nil
}

// maskWebhookURL masks the webhook URL for logging
func maskWebhookURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}
