package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dashbite/apigw/internal/metrics"
	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

// MaxResponseBody is the number of characters of a subscriber's response kept
// on a delivery row.
const MaxResponseBody = 1000

// Config tunes delivery behavior.
type Config struct {
	MaxAttempts      int           // total attempts per event, including the first
	BackoffBase      time.Duration // retry n waits BackoffBase * 2^n
	Timeout          time.Duration // per-attempt request timeout
	FailureThreshold int           // exhausted events before deactivation
	UserAgent        string
	Client           *http.Client
}

// DefaultConfig returns the production delivery settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		BackoffBase:      time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 10,
		UserAgent:        "apigw-webhooks/1.0",
	}
}

// Dispatcher fans events out to subscribers. Every delivery runs on its own
// goroutine and retries on in-process timers, so a retry still pending when
// the process exits is lost.
type Dispatcher struct {
	registry *Registry
	store    *store.Store
	cfg      Config
	client   *http.Client
	logger   *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	timers map[*time.Timer]struct{}
	closed bool
}

func NewDispatcher(reg *Registry, st *store.Store, cfg Config, logger *slog.Logger) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: reg,
		store:    st,
		cfg:      cfg,
		client:   client,
		logger:   logger.With("component", "webhook_dispatcher"),
		timers:   make(map[*time.Timer]struct{}),
	}
}

// Dispatch schedules delivery of event to every matching subscription and
// returns how many were scheduled. It does not wait for delivery; outcomes
// are visible only in delivery history. ctx bounds the subscription lookup
// only.
func (d *Dispatcher) Dispatch(ctx context.Context, event string, data interface{}) (int, error) {
	hooks, err := d.registry.ForEvent(ctx, event)
	if err != nil {
		return 0, fmt.Errorf("find subscribers for %s: %w", event, err)
	}
	if len(hooks) == 0 {
		return 0, nil
	}

	body, err := json.Marshal(model.WebhookEnvelope{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", event, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping event", "event", event)
		return 0, nil
	}
	for _, h := range hooks {
		d.track()
		go d.deliver(h, event, body, 1)
	}
	return len(hooks), nil
}

// Wait blocks until every scheduled delivery, including pending retries, has
// finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops accepting events, drops retries still waiting on their
// timers and waits for running attempts to finish or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	dropped := 0
	for t := range d.timers {
		if t.Stop() {
			dropped++
			d.untrack()
		}
		delete(d.timers, t)
	}
	d.mu.Unlock()
	if dropped > 0 {
		d.logger.Warn("dropped pending webhook retries", "count", dropped)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) track() {
	d.wg.Add(1)
	metrics.WebhookDeliveriesInFlight.Inc()
}

func (d *Dispatcher) untrack() {
	metrics.WebhookDeliveriesInFlight.Dec()
	d.wg.Done()
}

// deliver makes one attempt and then either records success, schedules the
// next attempt, or records an exhausted event.
func (d *Dispatcher) deliver(hook model.Webhook, event string, body []byte, attempt int) {
	defer d.untrack()

	if d.attempt(hook, event, body, attempt) {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()
		if err := d.store.MarkWebhookDelivered(ctx, hook.ID, time.Now()); err != nil {
			d.logger.Error("mark webhook delivered", "webhook_id", hook.ID, "error", err)
		}
		return
	}

	if attempt < d.cfg.MaxAttempts {
		d.scheduleRetry(hook, event, body, attempt)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	count, deactivated, err := d.store.RecordWebhookFailure(ctx, hook.ID, d.cfg.FailureThreshold)
	if err != nil {
		d.logger.Error("record webhook failure", "webhook_id", hook.ID, "error", err)
		return
	}
	d.logger.Warn("webhook delivery exhausted",
		"webhook_id", hook.ID, "event", event, "attempts", attempt, "failure_count", count)
	if deactivated {
		metrics.WebhooksDeactivated.Inc()
		d.logger.Warn("webhook deactivated after repeated failures",
			"webhook_id", hook.ID, "failure_count", count)
	}
}

// Backoff returns the wait before the attempt following failed attempt n.
func (d *Dispatcher) Backoff(n int) time.Duration {
	return d.cfg.BackoffBase * time.Duration(1<<uint(n))
}

func (d *Dispatcher) scheduleRetry(hook model.Webhook, event string, body []byte, failed int) {
	delay := d.Backoff(failed)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping retry", "webhook_id", hook.ID, "event", event)
		return
	}
	d.track()
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		d.mu.Lock()
		delete(d.timers, t)
		d.mu.Unlock()
		d.deliver(hook, event, body, failed+1)
	})
	d.timers[t] = struct{}{}
	d.logger.Debug("webhook retry scheduled",
		"webhook_id", hook.ID, "event", event, "attempt", failed+1, "delay", delay)
}

// attempt performs one POST and records it. It reports whether the
// subscriber answered 2xx.
func (d *Dispatcher) attempt(hook model.Webhook, event string, body []byte, attempt int) bool {
	start := time.Now()
	status, respBody, err := d.post(hook, event, body)
	metrics.WebhookDeliveryDuration.Observe(time.Since(start).Seconds())

	success := err == nil && status >= 200 && status < 300
	if err != nil {
		respBody = err.Error()
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	metrics.WebhookDeliveries.WithLabelValues(event, outcome).Inc()

	rec := &model.WebhookDelivery{
		WebhookID:      hook.ID,
		Event:          event,
		Payload:        body,
		ResponseStatus: status,
		ResponseBody:   truncate(respBody, MaxResponseBody),
		Success:        success,
		Attempt:        attempt,
		DeliveredAt:    time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()
	if err := d.store.CreateWebhookDelivery(ctx, rec); err != nil {
		d.logger.Error("record webhook delivery", "webhook_id", hook.ID, "error", err)
	}

	if !success {
		d.logger.Info("webhook delivery failed",
			"webhook_id", hook.ID, "event", event, "attempt", attempt, "status", status, "error", err)
	}
	return success
}

func (d *Dispatcher) post(hook model.Webhook, event string, body []byte) (int, string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set(HeaderSignature, Sign(hook.Secret, body))
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, hook.ID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	// Read a little past the limit so truncation sees multi-byte runes whole.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBody*4))
	if err != nil {
		return resp.StatusCode, "", nil
	}
	return resp.StatusCode, string(raw), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
