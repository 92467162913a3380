package service

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/modhub/message-delivery-service/internal/metrics"
	"github.com/modhub/message-delivery-service/internal/store"
)

// unreadKey distinguishes the whole-inbox count from per-community counts.
type unreadKey struct {
	userID       int64
	communityID  int64
	hasCommunity bool
}

func newUnreadKey(userID int64, communityID *int64) unreadKey {
	k := unreadKey{userID: userID}
	if communityID != nil {
		k.communityID = *communityID
		k.hasCommunity = true
	}
	return k
}

// UnreadCounter caches unread counts per (user, community-or-none) with a
// cache-aside LRU. Entries are invalidated, never incrementally adjusted;
// the next read recomputes from the store, so a racing double-invalidation
// can never skew the count.
type UnreadCounter struct {
	store store.Store
	cache *lru.Cache[unreadKey, int]
}

func NewUnreadCounter(s store.Store, cacheSize int) *UnreadCounter {
	// Config validation rejects non-positive sizes; the clamp keeps a
	// hand-constructed counter usable too. lru.New fails only for size < 1.
	if cacheSize < 1 {
		cacheSize = 1
	}
	cache, _ := lru.New[unreadKey, int](cacheSize)
	return &UnreadCounter{store: s, cache: cache}
}

func (c *UnreadCounter) Count(ctx context.Context, userID int64, communityID *int64) (int, error) {
	key := newUnreadKey(userID, communityID)
	if count, ok := c.cache.Get(key); ok {
		metrics.UnreadCacheHits.Inc()
		return count, nil
	}
	metrics.UnreadCacheMisses.Inc()

	count, err := c.store.CountUnread(ctx, userID, communityID)
	if err != nil {
		return 0, fmt.Errorf("unread count for user %d: %w", userID, err)
	}
	if count < 0 {
		count = 0
	}
	c.cache.Add(key, count)
	return count, nil
}

// Invalidate drops the inbox-wide entry and, when set, the community entry
// for a user. Called for every new message and every read receipt.
func (c *UnreadCounter) Invalidate(userID int64, communityID *int64) {
	c.cache.Remove(newUnreadKey(userID, nil))
	if communityID != nil {
		c.cache.Remove(newUnreadKey(userID, communityID))
	}
}
