package domain

import (
	"errors"
	"time"
)

// ErrUserNotFound is returned by profile stores when no record exists for a sender.
var ErrUserNotFound = errors.New("user not found")

// InboundMessage is a single message received from the messaging channel.
// Text is the original, un-normalized body.
type InboundMessage struct {
	From string
	To   string
	Text string
}

// Reply is a single outbound message. Delay is how long to wait after the
// previous reply before sending this one.
type Reply struct {
	To       string
	Text     string
	MediaURL string
	Delay    time.Duration
}

// UserRecord is the persisted per-sender profile.
type UserRecord struct {
	ID                string
	LastRoom          *Room
	InteractionCount  int
	LastInteractionAt time.Time
	CreatedAt         time.Time
	IsNew             bool
}

// NewUserRecord returns the blank record for a first-contact sender.
func NewUserRecord(id string, now time.Time) UserRecord {
	return UserRecord{
		ID:        id,
		CreatedAt: now.UTC(),
		IsNew:     true,
	}
}

// Touch records an interaction.
func (u *UserRecord) Touch(now time.Time) {
	u.LastInteractionAt = now.UTC()
	u.InteractionCount++
	u.IsNew = false
}
