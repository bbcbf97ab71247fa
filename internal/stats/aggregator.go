// Package stats keeps weekly, monthly and all-time usage counters.
package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MoonshotLab/carmen/internal/domain"
)

// Store persists the stats document. SaveChange receives every bucket touched
// by one event and must write them as a single unit.
type Store interface {
	LoadStats(ctx context.Context) (*domain.StatsDocument, error)
	SaveChange(ctx context.Context, change domain.StatsChange) error
}

// Event is one categorized inbound message.
type Event struct {
	Category  domain.StatsCategory
	From      string
	Room      string
	ImageType domain.ImageType
	// Text is the original message text, kept for feedback.
	Text string
}

// Aggregator applies events to the in-memory document and writes each change
// through to the store. All scopes are updated under one lock, and changes
// reach the store in the order they were applied.
type Aggregator struct {
	store Store
	now   func() time.Time
	loc   *time.Location

	mu  sync.Mutex
	doc *domain.StatsDocument

	// saveMu is taken before mu is released and held through the write.
	// Lock order is mu then saveMu.
	saveMu sync.Mutex
}

type Option func(*Aggregator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithLocation sets the time zone periods are computed in.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

// New returns an Aggregator. store may be nil for a memory-only aggregator.
func New(store Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		store: store,
		now:   time.Now,
		loc:   time.UTC,
		doc:   domain.NewStatsDocument(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load replaces the in-memory document with the persisted one.
func (a *Aggregator) Load(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	doc, err := a.store.LoadStats(ctx)
	if err != nil {
		return fmt.Errorf("stats: load: %w", err)
	}
	a.Replace(doc)
	return nil
}

// Replace swaps in doc, filling any missing collections.
func (a *Aggregator) Replace(doc *domain.StatsDocument) {
	doc = doc.Clone()
	a.mu.Lock()
	a.doc = doc
	a.mu.Unlock()
}

// RecordEvent applies an event to the current week, month and total buckets.
// The in-memory state is updated even if persisting the change fails.
func (a *Aggregator) RecordEvent(ctx context.Context, ev Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}

	a.mu.Lock()
	now := a.now().In(a.loc)
	weekID, monthID := WeekID(now), MonthID(now)
	week, month, total := a.bucketsLocked(weekID, monthID)

	var (
		feedback *domain.FeedbackEntry
		newUser  string
	)
	for _, b := range []*domain.StatsBucket{week, month, total} {
		b.Messages.Received++
		if b.Users.Add(ev.From) {
			newUser = ev.From
		}
		switch ev.Category {
		case domain.CategoryRoom:
			rc := b.Rooms[ev.Room]
			rc.TotalRequests++
			b.Rooms[ev.Room] = rc
		case domain.CategoryRoomImage:
			rc := b.Rooms[ev.Room]
			if ev.ImageType == domain.ImageMap {
				rc.MapRequests++
			} else {
				rc.PicRequests++
			}
			b.Rooms[ev.Room] = rc
		}
		if ev.Category.Understood() {
			b.Messages.Understood++
		} else {
			b.Messages.NotUnderstood++
		}
	}
	if ev.Category == domain.CategoryFeedback {
		entry := domain.FeedbackEntry{From: ev.From, Text: ev.Text, SubmittedAt: now.UTC()}
		a.doc.Feedback = append(a.doc.Feedback, entry)
		feedback = &entry
	}

	change := domain.StatsChange{
		WeekID:   weekID,
		Week:     week.Clone(),
		MonthID:  monthID,
		Month:    month.Clone(),
		Total:    total.Clone(),
		Feedback: feedback,
		User:     newUser,
	}
	return a.saveInOrder(ctx, change)
}

// RecordSent counts one outbound message in every scope.
func (a *Aggregator) RecordSent(ctx context.Context) error {
	a.mu.Lock()
	now := a.now().In(a.loc)
	weekID, monthID := WeekID(now), MonthID(now)
	week, month, total := a.bucketsLocked(weekID, monthID)
	for _, b := range []*domain.StatsBucket{week, month, total} {
		b.Messages.Sent++
	}
	change := domain.StatsChange{
		WeekID:  weekID,
		Week:    week.Clone(),
		MonthID: monthID,
		Month:   month.Clone(),
		Total:   total.Clone(),
	}
	return a.saveInOrder(ctx, change)
}

// Document returns a deep copy of the full stats document.
func (a *Aggregator) Document() *domain.StatsDocument {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.doc.Clone()
}

// saveInOrder is called with mu held and releases it. Each bucket write
// replaces the stored bucket, so an older copy must never land last.
func (a *Aggregator) saveInOrder(ctx context.Context, change domain.StatsChange) error {
	if a.store == nil {
		a.mu.Unlock()
		return nil
	}
	a.saveMu.Lock()
	a.mu.Unlock()
	defer a.saveMu.Unlock()

	if err := a.store.SaveChange(ctx, change); err != nil {
		return fmt.Errorf("stats: save: %w", err)
	}
	return nil
}

// bucketsLocked returns the live week, month and total buckets, creating
// blank period buckets on first touch.
func (a *Aggregator) bucketsLocked(weekID, monthID string) (week, month, total *domain.StatsBucket) {
	week = ensureBucket(a.doc.Weekly, weekID)
	month = ensureBucket(a.doc.Monthly, monthID)
	if a.doc.Total == nil {
		a.doc.Total = domain.NewStatsBucket()
	}
	return week, month, a.doc.Total
}

func ensureBucket(m map[string]*domain.StatsBucket, id string) *domain.StatsBucket {
	b, ok := m[id]
	if !ok || b == nil {
		b = domain.NewStatsBucket()
		m[id] = b
	}
	if b.Users == nil {
		b.Users = domain.UserSet{}
	}
	if b.Rooms == nil {
		b.Rooms = map[string]domain.RoomCounts{}
	}
	return b
}

func validateEvent(ev Event) error {
	switch ev.Category {
	case domain.CategoryRoom:
		if ev.Room == "" {
			return errors.New("stats: room event without room")
		}
	case domain.CategoryRoomImage:
		if ev.Room == "" {
			return errors.New("stats: room image event without room")
		}
		if ev.ImageType != domain.ImagePicture && ev.ImageType != domain.ImageMap {
			return fmt.Errorf("stats: unknown image type %q", ev.ImageType)
		}
	case domain.CategoryFeedback, domain.CategoryOther, domain.CategoryNotUnderstood:
	default:
		return fmt.Errorf("stats: unknown category %q", ev.Category)
	}
	return nil
}

// WeekID returns the ISO week period id, e.g. "2026-W42".
func WeekID(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthID returns the month period id, e.g. "2026-10".
func MonthID(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}
