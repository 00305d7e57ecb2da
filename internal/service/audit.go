package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dashbite/apigw/internal/metrics"
	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/store"
)

const auditWriteTimeout = 5 * time.Second

// AuditLogger journals requests made with API keys. Records are queued and
// written by a background worker; write failures are logged and never reach
// the caller.
type AuditLogger struct {
	store  *store.Store
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	entries chan model.APIAuditLog
	done    chan struct{}
	once    sync.Once
}

func NewAuditLogger(st *store.Store, logger *slog.Logger, bufferSize int) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		store:   st,
		logger:  logger.With("component", "audit"),
		entries: make(chan model.APIAuditLog, bufferSize),
		done:    make(chan struct{}),
	}
}

// Start launches the background writer.
func (a *AuditLogger) Start() {
	a.once.Do(func() {
		go a.run()
	})
}

// Record queues an entry without blocking. When the buffer is full the entry
// is dropped.
func (a *AuditLogger) Record(entry model.APIAuditLog) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case a.entries <- entry:
	default:
		metrics.AuditDropped.Inc()
		a.logger.Warn("audit buffer full, dropping record", "path", entry.Path)
	}
}

// ListForKey returns a key's audit records newest first.
func (a *AuditLogger) ListForKey(ctx context.Context, keyID string, limit int) ([]model.APIAuditLog, error) {
	return a.store.ListAuditLogs(ctx, keyID, limit)
}

// Shutdown stops accepting records and waits for queued ones to be written,
// or for ctx to end.
func (a *AuditLogger) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.entries)
	}
	a.mu.Unlock()

	// Start the worker to drain queued records if it never started.
	a.once.Do(func() {
		go a.run()
	})

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AuditLogger) run() {
	defer close(a.done)
	for entry := range a.entries {
		a.write(entry)
	}
}

func (a *AuditLogger) write(entry model.APIAuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := a.store.CreateAuditLog(ctx, &entry); err != nil {
		metrics.AuditWriteErrors.Inc()
		a.logger.Warn("audit write failed", "error", err, "path", entry.Path)
	}
}
