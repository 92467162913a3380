package registry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/modhub/message-delivery-service/internal/domain/model"
)

// State is the session lifecycle phase. Transitions only ever move forward;
// re-subscription requires a new connection.
type State int32

const (
	StateConnecting State = iota + 1
	StateAuthenticated
	StateSubscribed
	StateClosing
	StateClosed
)

// legal transition edges. Closing is reachable from Authenticated as well
// as Subscribed so a failed group join can still tear the session down.
var transitions = map[State][]State{
	StateConnecting:    {StateAuthenticated, StateClosing},
	StateAuthenticated: {StateSubscribed, StateClosing},
	StateSubscribed:    {StateClosing},
	StateClosing:       {StateClosed},
}

// Session is one authenticated client connection: its identity, its single
// subscribed group, and its bounded outbound queue. Inbound handling and
// outbound writing are separate; Send only ever enqueues, and exactly one
// writer goroutine drains Recv, so pushed frames never interleave.
type Session struct {
	id        uuid.UUID
	userID    int64
	createdAt time.Time

	sendCh      chan model.Frame
	sendTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
	dropped     atomic.Uint64

	mu      sync.Mutex
	state   State
	group   model.GroupKey
	onClose func()
}

func NewSession(userID int64, sendBuffer int, sendTimeout time.Duration) *Session {
	return &Session{
		id:          uuid.New(),
		userID:      userID,
		createdAt:   time.Now(),
		sendCh:      make(chan model.Frame, sendBuffer),
		sendTimeout: sendTimeout,
		done:        make(chan struct{}),
		state:       StateConnecting,
	}
}

func (s *Session) ID() uuid.UUID        { return s.id }
func (s *Session) UserID() int64        { return s.userID }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Group() model.GroupKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group
}

// Advance moves the session along the lifecycle, rejecting illegal edges.
func (s *Session) Advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(to)
}

func (s *Session) advanceLocked(to State) error {
	for _, next := range transitions[s.state] {
		if next == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("session %s: illegal transition %d -> %d", s.id, s.state, to)
}

// BindGroup fixes the session's subscription key. Allowed exactly once,
// after authentication; the key never changes afterwards.
func (s *Session) BindGroup(key model.GroupKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated {
		return fmt.Errorf("session %s: group bind requires authenticated state", s.id)
	}
	if !s.group.IsZero() {
		return fmt.Errorf("session %s: group already bound", s.id)
	}
	s.group = key
	return nil
}

// SetOnClose installs the teardown hook (broker leave, registry removal).
// Installed only after the broker join completed, which is what guarantees
// leave is never attempted before join.
func (s *Session) SetOnClose(fn func()) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

// Send enqueues one outbound frame, waiting up to the send timeout for
// buffer space. False means the session is gone or the consumer is too
// slow; callers treat it as a transport failure.
func (s *Session) Send(f model.Frame) bool {
	select {
	case <-s.done:
		return false
	case s.sendCh <- f:
		return true
	default:
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return false
	case s.sendCh <- f:
		return true
	case <-timer.C:
		s.dropped.Add(1)
		return false
	}
}

// Recv is the outbound queue; exactly one writer goroutine may drain it.
// The channel is never closed, readers watch Done instead.
func (s *Session) Recv() <-chan model.Frame { return s.sendCh }

// Done is closed when the session enters teardown.
func (s *Session) Done() <-chan struct{} { return s.done }

// Dropped reports frames shed due to a saturated queue.
func (s *Session) Dropped() uint64 { return s.dropped.Load() }

// Close drives Closing -> Closed. Safe to invoke concurrently from multiple
// triggers (transport error, idle timeout, shutdown drain); the transition
// runs exactly once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		_ = s.advanceLocked(StateClosing)
		fn := s.onClose
		s.mu.Unlock()

		close(s.done)
		if fn != nil {
			fn()
		}

		s.mu.Lock()
		_ = s.advanceLocked(StateClosed)
		s.mu.Unlock()
	})
}
