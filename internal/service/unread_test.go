package service

import (
	"context"
	"testing"
	"time"

	"github.com/modhub/message-delivery-service/internal/domain/model"
	"github.com/modhub/message-delivery-service/internal/store"
	"github.com/stretchr/testify/require"
)

func TestUnreadCounterCachesUntilInvalidated(t *testing.T) {
	st := store.NewMemory()
	st.Put(model.MessageEvent{ID: 1, SenderID: 2, RecipientID: 1})
	c := NewUnreadCounter(st, 8)

	count, err := c.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// A store change without invalidation is not observed.
	st.Put(model.MessageEvent{ID: 2, SenderID: 2, RecipientID: 1})
	count, err = c.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	c.Invalidate(1, nil)
	count, err = c.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestUnreadCounterCommunityScope(t *testing.T) {
	st := store.NewMemory()
	communityID := int64(7)
	st.Put(model.MessageEvent{ID: 1, SenderID: 2, RecipientID: 1, CommunityID: &communityID})
	st.Put(model.MessageEvent{ID: 2, SenderID: 2, RecipientID: 1})
	c := NewUnreadCounter(st, 8)

	count, err := c.Count(context.Background(), 1, &communityID)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	// Community invalidation drops both the community and the inbox entry.
	_, err = c.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	st.Put(model.MessageEvent{ID: 3, SenderID: 2, RecipientID: 1, CommunityID: &communityID})
	c.Invalidate(1, &communityID)

	count, err = c.Count(context.Background(), 1, &communityID)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	count, err = c.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestUnreadCounterIsolatesUsers(t *testing.T) {
	st := store.NewMemory()
	st.Put(model.MessageEvent{ID: 1, SenderID: 2, RecipientID: 1})
	st.Put(model.MessageEvent{ID: 2, SenderID: 1, RecipientID: 2})
	c := NewUnreadCounter(st, 8)

	count, err := c.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = c.Count(context.Background(), 2, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestUnreadCounterToleratesNonPositiveSize(t *testing.T) {
	st := store.NewMemory()
	st.Put(model.MessageEvent{ID: 1, SenderID: 2, RecipientID: 1})

	for _, size := range []int{0, -1} {
		c := NewUnreadCounter(st, size)
		count, err := c.Count(context.Background(), 1, nil)
		require.NoError(t, err)
		require.Equal(t, 1, count)
	}
}

func TestUnreadCounterClampsNegative(t *testing.T) {
	c := NewUnreadCounter(negativeStore{}, 8)
	count, err := c.Count(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

// negativeStore returns an impossible count, as a drifted replica might.
type negativeStore struct{}

func (negativeStore) FindMessage(context.Context, int64) (model.MessageEvent, error) {
	return model.MessageEvent{}, store.ErrNotFound
}

func (negativeStore) MarkRead(context.Context, int64, time.Time) (time.Time, bool, error) {
	return time.Time{}, false, store.ErrNotFound
}

func (negativeStore) CountUnread(context.Context, int64, *int64) (int, error) {
	return -3, nil
}
