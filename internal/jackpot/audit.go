package jackpot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/jackpotd/internal/infra/storage"
	"github.com/vietddude/jackpotd/internal/jackpot/metrics"
)

// AuditSink writes operation events off the critical path. Emit never
// blocks: when the buffer is full the event is dropped and counted.
type AuditSink struct {
	repo   storage.AuditRepository
	events chan *storage.AuditEvent
	done   chan struct{}
	once   sync.Once
}

// NewAuditSink creates a sink and starts its writer goroutine.
func NewAuditSink(repo storage.AuditRepository, bufferSize int) *AuditSink {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	s := &AuditSink{
		repo:   repo,
		events: make(chan *storage.AuditEvent, bufferSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Emit enqueues an event without blocking the caller.
func (s *AuditSink) Emit(event *storage.AuditEvent) {
	select {
	case s.events <- event:
	default:
		metrics.AuditDropped.Inc()
		slog.Warn("Audit buffer full, dropping event",
			"operation", event.Operation, "op_id", event.OperationID)
	}
}

func (s *AuditSink) run() {
	defer close(s.done)
	for event := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.SaveEvent(ctx, event); err != nil {
			slog.Warn("Failed to persist audit event",
				"operation", event.Operation, "op_id", event.OperationID, "error", err)
		}
		cancel()
	}
}

// Close drains buffered events and stops the writer. Safe to call twice.
func (s *AuditSink) Close() {
	s.once.Do(func() {
		close(s.events)
	})
	<-s.done
}
