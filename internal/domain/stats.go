package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// StatsCategory classifies an inbound message for usage statistics.
type StatsCategory string

const (
	CategoryRoom          StatsCategory = "room"
	CategoryRoomImage     StatsCategory = "roomImage"
	CategoryFeedback      StatsCategory = "feedback"
	CategoryOther         StatsCategory = "other"
	CategoryNotUnderstood StatsCategory = "notUnderstood"
)

// Understood reports whether messages of this category count as understood.
func (c StatsCategory) Understood() bool {
	return c != CategoryNotUnderstood
}

// MessageCounts are the per-bucket message counters.
type MessageCounts struct {
	Received      int `json:"received"`
	Sent          int `json:"sent"`
	Understood    int `json:"understood"`
	NotUnderstood int `json:"notUnderstood"`
}

// RoomCounts are the per-room request counters within a bucket.
type RoomCounts struct {
	TotalRequests int `json:"totalRequests"`
	MapRequests   int `json:"mapRequests"`
	PicRequests   int `json:"picRequests"`
}

// UserSet is a set of sender ids. It serializes as a sorted JSON array.
type UserSet map[string]struct{}

// Add inserts id and reports whether it was new.
func (s UserSet) Add(id string) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Sorted returns the ids in lexical order.
func (s UserSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s UserSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *UserSet) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(UserSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	*s = set
	return nil
}

// StatsBucket aggregates counters for one period, or for all time.
type StatsBucket struct {
	Messages MessageCounts         `json:"messages"`
	Users    UserSet               `json:"users"`
	Rooms    map[string]RoomCounts `json:"rooms"`
}

// NewStatsBucket returns an empty bucket with initialized collections.
func NewStatsBucket() *StatsBucket {
	return &StatsBucket{
		Users: UserSet{},
		Rooms: map[string]RoomCounts{},
	}
}

// Clone returns a deep copy of the bucket.
func (b *StatsBucket) Clone() *StatsBucket {
	if b == nil {
		return NewStatsBucket()
	}
	out := &StatsBucket{
		Messages: b.Messages,
		Users:    make(UserSet, len(b.Users)),
		Rooms:    make(map[string]RoomCounts, len(b.Rooms)),
	}
	for id := range b.Users {
		out.Users[id] = struct{}{}
	}
	for k, v := range b.Rooms {
		out.Rooms[k] = v
	}
	return out
}

// FeedbackEntry is one piece of user feedback. Entries are append-only.
type FeedbackEntry struct {
	From        string    `json:"from"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"date"`
}

// StatsDocument is the full persisted statistics state.
type StatsDocument struct {
	Weekly   map[string]*StatsBucket `json:"weekly"`
	Monthly  map[string]*StatsBucket `json:"monthly"`
	Total    *StatsBucket            `json:"total"`
	Feedback []FeedbackEntry         `json:"feedback"`
}

// NewStatsDocument returns an empty document.
func NewStatsDocument() *StatsDocument {
	return &StatsDocument{
		Weekly:   map[string]*StatsBucket{},
		Monthly:  map[string]*StatsBucket{},
		Total:    NewStatsBucket(),
		Feedback: []FeedbackEntry{},
	}
}

// Clone returns a deep copy of the document.
func (d *StatsDocument) Clone() *StatsDocument {
	out := NewStatsDocument()
	if d == nil {
		return out
	}
	for k, b := range d.Weekly {
		out.Weekly[k] = b.Clone()
	}
	for k, b := range d.Monthly {
		out.Monthly[k] = b.Clone()
	}
	out.Total = d.Total.Clone()
	out.Feedback = append(out.Feedback, d.Feedback...)
	return out
}

// StatsChange is the set of records touched by a single stats event. Stores
// persist it as one unit so the three scopes never diverge.
type StatsChange struct {
	WeekID   string
	Week     *StatsBucket
	MonthID  string
	Month    *StatsBucket
	Total    *StatsBucket
	Feedback *FeedbackEntry
	// User is the sender the event added to at least one bucket's user set,
	// empty when no set grew.
	User string
}
