package broker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/metrics"
)

// Memory is the single-process backend: a mutex-guarded subscription table
// with synchronous fan-out. It also serves as the local delivery half of
// the Bus backend.
type Memory struct {
	logger *slog.Logger

	mu     sync.RWMutex
	groups map[model.GroupKey]map[uuid.UUID]Subscriber
}

func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		logger: logger,
		groups: make(map[model.GroupKey]map[uuid.UUID]Subscriber),
	}
}

func (b *Memory) Join(_ context.Context, key model.GroupKey, sub Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.groups[key]
	if !ok {
		subs = make(map[uuid.UUID]Subscriber)
		b.groups[key] = subs
	}
	subs[sub.ID()] = sub
	metrics.GroupJoins.Inc()
	return nil
}

func (b *Memory) Leave(key model.GroupKey, sessionID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.groups[key]
	if !ok {
		return
	}
	delete(subs, sessionID)
	// Purge the group entry so idle keys don't accumulate.
	if len(subs) == 0 {
		delete(b.groups, key)
	}
}

// Broadcast snapshots the subscriber set under the read lock and delivers
// outside it, so a slow subscriber never blocks joins or other broadcasts.
func (b *Memory) Broadcast(_ context.Context, key model.GroupKey, f model.Frame, exclude uuid.UUID) error {
	b.mu.RLock()
	subs := b.groups[key]
	snapshot := make([]Subscriber, 0, len(subs))
	for id, sub := range subs {
		if exclude != uuid.Nil && id == exclude {
			continue
		}
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.Send(f) {
			metrics.DroppedFrames.Inc()
			b.logger.Warn("frame dropped", "group", key.String(), "session_id", sub.ID(), "frame", f.Type)
		}
	}
	metrics.Broadcasts.WithLabelValues(f.Type).Inc()
	return nil
}

// GroupSize reports the current subscriber count for a key. The Bus backend
// uses it to decide when a bus subscription can be torn down.
func (b *Memory) GroupSize(key model.GroupKey) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[key])
}
