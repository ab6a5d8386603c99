package jackpot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/jackpotd/internal/infra/storage"
)

type recordingAuditRepo struct {
	mu     sync.Mutex
	events []*storage.AuditEvent
	block  chan struct{} // when set, SaveEvent waits for it
}

func (r *recordingAuditRepo) SaveEvent(ctx context.Context, event *storage.AuditEvent) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAuditRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAuditSinkPersistsEvents(t *testing.T) {
	repo := &recordingAuditRepo{}
	sink := NewAuditSink(repo, 16)

	for i := range 5 {
		sink.Emit(&storage.AuditEvent{Operation: "contribute", RetryCount: i})
	}
	sink.Close()

	if got := repo.count(); got != 5 {
		t.Errorf("persisted events = %d, want 5", got)
	}
}

func TestAuditSinkCloseDrainsBuffer(t *testing.T) {
	repo := &recordingAuditRepo{}
	sink := NewAuditSink(repo, 64)

	for range 50 {
		sink.Emit(&storage.AuditEvent{Operation: "contribute"})
	}
	sink.Close()

	if got := repo.count(); got != 50 {
		t.Errorf("persisted events = %d, want all 50 drained on close", got)
	}
}

func TestAuditSinkEmitNeverBlocks(t *testing.T) {
	repo := &recordingAuditRepo{block: make(chan struct{})}
	sink := NewAuditSink(repo, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Far more events than the buffer holds, with the writer stuck.
		for range 100 {
			sink.Emit(&storage.AuditEvent{Operation: "contribute"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full buffer")
	}

	close(repo.block)
	sink.Close()
}

func TestAuditSinkCloseIdempotent(t *testing.T) {
	sink := NewAuditSink(&recordingAuditRepo{}, 4)
	sink.Close()
	sink.Close() // must not panic
}
