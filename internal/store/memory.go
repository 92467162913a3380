package store

import (
	"context"
	"sync"
	"time"

	"github.com/modhub/message-delivery-service/internal/domain/model"
)

// Memory is an in-process store used in tests and single-binary dev mode.
// It implements the same atomic mark-read contract as the SQL adapter and
// the moderator lookup consumed by the community endpoint.
type Memory struct {
	mu         sync.Mutex
	messages   map[int64]model.MessageEvent
	moderators map[memberKey]struct{}
}

type memberKey struct {
	userID      int64
	communityID int64
}

func NewMemory() *Memory {
	return &Memory{
		messages:   make(map[int64]model.MessageEvent),
		moderators: make(map[memberKey]struct{}),
	}
}

// Put inserts or replaces a message snapshot.
func (m *Memory) Put(ev model.MessageEvent) {
	m.mu.Lock()
	m.messages[ev.ID] = ev
	m.mu.Unlock()
}

// GrantModerator marks a user as an approved moderator of a community.
func (m *Memory) GrantModerator(userID, communityID int64) {
	m.mu.Lock()
	m.moderators[memberKey{userID, communityID}] = struct{}{}
	m.mu.Unlock()
}

func (m *Memory) FindMessage(_ context.Context, id int64) (model.MessageEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.messages[id]
	if !ok {
		return model.MessageEvent{}, ErrNotFound
	}
	return ev, nil
}

func (m *Memory) MarkRead(_ context.Context, id int64, at time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev, ok := m.messages[id]
	if !ok {
		return time.Time{}, false, ErrNotFound
	}
	if ev.IsRead {
		return *ev.ReadAt, true, nil
	}
	ev.IsRead = true
	ev.ReadAt = &at
	ev.UpdatedAt = at
	m.messages[id] = ev
	return at, false, nil
}

func (m *Memory) CountUnread(_ context.Context, userID int64, communityID *int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, ev := range m.messages {
		if ev.RecipientID != userID || ev.IsRead {
			continue
		}
		if communityID != nil && (ev.CommunityID == nil || *ev.CommunityID != *communityID) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *Memory) IsModerator(_ context.Context, userID, communityID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.moderators[memberKey{userID, communityID}]
	return ok, nil
}
