// Package registry owns the session lifecycle and the process-wide table
// of live sessions. Sessions share no state with each other; everything
// cross-session flows through the broker.
package registry

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/internal/metrics"
)

// Registry is the process-wide session table. Entries are added on
// successful subscribe and removed by the session's close hook; Shutdown
// drains whatever is left so no session outlives the process.
type Registry struct {
	logger *slog.Logger

	// sessions stores Map[uuid.UUID]*Session. Lock-free lookups for the
	// read-heavy routing path.
	sessions sync.Map
	count    atomic.Int64
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

func (r *Registry) Register(s *Session) {
	if _, loaded := r.sessions.LoadOrStore(s.ID(), s); loaded {
		return
	}
	r.count.Add(1)
	metrics.ActiveSessions.Inc()
	metrics.SessionsOpened.Inc()
}

func (r *Registry) Unregister(id uuid.UUID) {
	if _, loaded := r.sessions.LoadAndDelete(id); !loaded {
		return
	}
	r.count.Add(-1)
	metrics.ActiveSessions.Dec()
}

func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

func (r *Registry) Len() int {
	return int(r.count.Load())
}

// Shutdown closes every remaining session. Each close runs its own leave
// and unregister hook, so the table is empty when this returns.
func (r *Registry) Shutdown() {
	r.sessions.Range(func(_, v any) bool {
		v.(*Session).Close()
		return true
	})
	r.logger.Info("session registry drained")
}
