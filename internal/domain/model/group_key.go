package model

import "fmt"

type GroupKind int16

const (
	// Starts at 1 so the zero GroupKey is detectably unset.
	GroupUser GroupKind = iota + 1
	GroupCommunity
)

// GroupKey identifies one broadcast group: either a user's personal inbox
// or a community. It is the broker's subscription key and doubles as the
// bus routing topic in distributed deployments.
type GroupKey struct {
	Kind GroupKind
	ID   int64
}

func UserKey(userID int64) GroupKey {
	return GroupKey{Kind: GroupUser, ID: userID}
}

func CommunityKey(communityID int64) GroupKey {
	return GroupKey{Kind: GroupCommunity, ID: communityID}
}

func (k GroupKey) IsZero() bool { return k.Kind == 0 }

// String matches the upstream group naming scheme (user_<id>, community_<id>).
func (k GroupKey) String() string {
	switch k.Kind {
	case GroupUser:
		return fmt.Sprintf("user_%d", k.ID)
	case GroupCommunity:
		return fmt.Sprintf("community_%d", k.ID)
	default:
		return fmt.Sprintf("unknown_%d", k.ID)
	}
}

// Topic is the bus routing key for this group.
func (k GroupKey) Topic() string {
	return "delivery." + k.String()
}

// CommunityID returns the community this key addresses, or nil for
// personal-inbox keys. Used when building the connection acknowledgement.
func (k GroupKey) CommunityID() *int64 {
	if k.Kind != GroupCommunity {
		return nil
	}
	id := k.ID
	return &id
}
