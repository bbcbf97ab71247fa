package stats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MoonshotLab/carmen/internal/domain"
)

type fakeStore struct {
	doc     *domain.StatsDocument
	loadErr error
	saveErr error
	changes []domain.StatsChange
}

func (f *fakeStore) LoadStats(context.Context) (*domain.StatsDocument, error) {
	return f.doc, f.loadErr
}

func (f *fakeStore) SaveChange(_ context.Context, change domain.StatsChange) error {
	f.changes = append(f.changes, change)
	return f.saveErr
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestAggregator(t *testing.T, store Store) (*Aggregator, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)}
	return New(store, WithClock(c.Now)), c
}

func record(t *testing.T, a *Aggregator, ev Event) {
	t.Helper()
	require.NoError(t, a.RecordEvent(context.Background(), ev))
}

func requireBalanced(t *testing.T, b BucketView) {
	t.Helper()
	require.Equal(t, b.Messages.Received, b.Messages.Understood+b.Messages.NotUnderstood)
}

func TestPeriodIDs(t *testing.T) {
	ts := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "2026-W42", WeekID(ts))
	require.Equal(t, "2026-10", MonthID(ts))

	// ISO weeks can belong to the previous year.
	require.Equal(t, "2026-W53", WeekID(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestRecordEvent_RoomCountsInEveryScope(t *testing.T) {
	a, _ := newTestAggregator(t, nil)
	for i := 0; i < 3; i++ {
		record(t, a, Event{Category: domain.CategoryRoom, From: "+1", Room: "Uranus"})
	}
	record(t, a, Event{Category: domain.CategoryRoom, From: "+2", Room: "Gym"})

	snap := a.Snapshot()
	for _, b := range []BucketView{snap.Week, snap.Month, snap.Total} {
		require.Equal(t, 4, b.Messages.Received)
		require.Equal(t, 4, b.Messages.Understood)
		require.Equal(t, []string{"+1", "+2"}, b.Users)
		require.Equal(t, []RoomStat{
			{Name: "Uranus", TotalRequests: 3},
			{Name: "Gym", TotalRequests: 1},
		}, b.Rooms)
		requireBalanced(t, b)
	}
	require.Equal(t, 42, snap.Week.Num)
	require.Equal(t, "October", snap.Month.Name)
}

func TestRecordEvent_Categories(t *testing.T) {
	a, _ := newTestAggregator(t, nil)
	record(t, a, Event{Category: domain.CategoryRoomImage, From: "+1", Room: "Uranus", ImageType: domain.ImagePicture})
	record(t, a, Event{Category: domain.CategoryRoomImage, From: "+1", Room: "Uranus", ImageType: domain.ImageMap})
	record(t, a, Event{Category: domain.CategoryRoomImage, From: "+1", Room: "Uranus", ImageType: domain.ImageMap})
	record(t, a, Event{Category: domain.CategoryOther, From: "+1"})
	record(t, a, Event{Category: domain.CategoryNotUnderstood, From: "+1"})
	record(t, a, Event{Category: domain.CategoryNotUnderstood, From: "+1"})
	record(t, a, Event{Category: domain.CategoryFeedback, From: "+1", Text: "More plants!"})

	snap := a.Snapshot()
	total := snap.Total
	require.Equal(t, 7, total.Messages.Received)
	require.Equal(t, 5, total.Messages.Understood)
	require.Equal(t, 2, total.Messages.NotUnderstood)
	requireBalanced(t, total)
	require.Equal(t, []RoomStat{{Name: "Uranus", TotalRequests: 0, PicRequests: 1, MapRequests: 2}}, total.Rooms)
	require.Len(t, snap.Feedback, 1)
	require.Equal(t, "More plants!", snap.Feedback[0].Text)
	require.Equal(t, "+1", snap.Feedback[0].From)
	require.Equal(t, []string{"+1"}, total.Users)
}

func TestRecordEvent_RejectsInvalidEvents(t *testing.T) {
	a, _ := newTestAggregator(t, nil)
	require.Error(t, a.RecordEvent(context.Background(), Event{Category: "bogus"}))
	require.Error(t, a.RecordEvent(context.Background(), Event{Category: domain.CategoryRoom}))
	require.Error(t, a.RecordEvent(context.Background(), Event{Category: domain.CategoryRoomImage, Room: "Uranus", ImageType: "gif"}))
	require.Zero(t, a.Snapshot().Total.Messages.Received)
}

func TestRecordEvent_NewPeriodsStartBlank(t *testing.T) {
	a, c := newTestAggregator(t, nil)
	record(t, a, Event{Category: domain.CategoryRoom, From: "+1", Room: "Uranus"})

	c.now = c.now.AddDate(0, 1, 0)
	snap := a.Snapshot()
	require.Zero(t, snap.Week.Messages.Received)
	require.Zero(t, snap.Month.Messages.Received)
	require.Empty(t, snap.Month.Rooms)
	require.Equal(t, 1, snap.Total.Messages.Received)

	record(t, a, Event{Category: domain.CategoryRoom, From: "+1", Room: "Uranus"})
	snap = a.Snapshot()
	require.Equal(t, 1, snap.Month.Rooms[0].TotalRequests)
	require.Equal(t, 2, snap.Total.Rooms[0].TotalRequests)

	doc := a.Document()
	require.Len(t, doc.Monthly, 2)
	require.Len(t, doc.Weekly, 2)
	for _, b := range doc.Monthly {
		require.GreaterOrEqual(t, doc.Total.Messages.Received, b.Messages.Received)
	}
}

func TestRecordSent(t *testing.T) {
	store := &fakeStore{}
	a, _ := newTestAggregator(t, store)
	require.NoError(t, a.RecordSent(context.Background()))
	snap := a.Snapshot()
	require.Equal(t, 1, snap.Week.Messages.Sent)
	require.Equal(t, 1, snap.Month.Messages.Sent)
	require.Equal(t, 1, snap.Total.Messages.Sent)
	require.Zero(t, snap.Total.Messages.Received)
	require.Len(t, store.changes, 1)
}

func TestRecordEvent_WritesAllScopesInOneChange(t *testing.T) {
	store := &fakeStore{}
	a, _ := newTestAggregator(t, store)
	record(t, a, Event{Category: domain.CategoryFeedback, From: "+1", Text: "nice"})

	require.Len(t, store.changes, 1)
	ch := store.changes[0]
	require.Equal(t, "2026-W42", ch.WeekID)
	require.Equal(t, "2026-10", ch.MonthID)
	require.Equal(t, 1, ch.Week.Messages.Received)
	require.Equal(t, 1, ch.Month.Messages.Received)
	require.Equal(t, 1, ch.Total.Messages.Received)
	require.NotNil(t, ch.Feedback)
	require.Equal(t, "nice", ch.Feedback.Text)

	// The change is a copy; later events must not mutate it.
	record(t, a, Event{Category: domain.CategoryOther, From: "+2"})
	require.Equal(t, 1, ch.Total.Messages.Received)
}

func TestRecordEvent_StoreFailureKeepsMemoryState(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("boom")}
	a, _ := newTestAggregator(t, store)
	err := a.RecordEvent(context.Background(), Event{Category: domain.CategoryOther, From: "+1"})
	require.ErrorContains(t, err, "boom")
	require.Equal(t, 1, a.Snapshot().Total.Messages.Received)
}

func TestLoad(t *testing.T) {
	doc := domain.NewStatsDocument()
	doc.Total.Messages.Received = 10
	doc.Total.Messages.Understood = 10
	doc.Total.Rooms["Gym"] = domain.RoomCounts{TotalRequests: 10}

	a, _ := newTestAggregator(t, &fakeStore{doc: doc})
	require.NoError(t, a.Load(context.Background()))
	record(t, a, Event{Category: domain.CategoryRoom, From: "+1", Room: "Gym"})

	require.Equal(t, 11, a.Snapshot().Total.Rooms[0].TotalRequests)
	require.Equal(t, 10, doc.Total.Rooms["Gym"].TotalRequests, "loaded document must be copied")

	a, _ = newTestAggregator(t, &fakeStore{loadErr: errors.New("no table")})
	require.ErrorContains(t, a.Load(context.Background()), "no table")

	a, _ = newTestAggregator(t, nil)
	require.NoError(t, a.Load(context.Background()))
}

func TestSnapshot_RoundTrip(t *testing.T) {
	a, _ := newTestAggregator(t, nil)
	record(t, a, Event{Category: domain.CategoryRoom, From: "+1", Room: "Uranus"})
	record(t, a, Event{Category: domain.CategoryRoomImage, From: "+2", Room: "Gym", ImageType: domain.ImageMap})
	record(t, a, Event{Category: domain.CategoryFeedback, From: "+2", Text: "ok"})

	snap := a.Snapshot()
	buf, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(buf, &decoded))
	require.Equal(t, snap, decoded)

	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(buf, &top))
	for _, key := range []string{"week", "month", "total", "feedback"} {
		require.Contains(t, top, key)
	}
}

func TestDocument_RoundTrip(t *testing.T) {
	a, _ := newTestAggregator(t, nil)
	record(t, a, Event{Category: domain.CategoryRoom, From: "+1", Room: "Uranus"})
	record(t, a, Event{Category: domain.CategoryNotUnderstood, From: "+2"})
	record(t, a, Event{Category: domain.CategoryFeedback, From: "+2", Text: "more maps"})
	require.NoError(t, a.RecordSent(context.Background()))

	doc := a.Document()
	buf, err := MarshalDocument(doc)
	require.NoError(t, err)

	reloaded, err := UnmarshalDocument(buf)
	require.NoError(t, err)
	require.Equal(t, doc, reloaded)

	b := New(nil, WithClock(func() time.Time { return time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC) }))
	b.Replace(reloaded)
	require.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestUnmarshalDocument_Invalid(t *testing.T) {
	_, err := UnmarshalDocument([]byte("{"))
	require.Error(t, err)

	doc, err := UnmarshalDocument([]byte(`{"total": null}`))
	require.NoError(t, err)
	require.NotNil(t, doc.Total)
	require.NotNil(t, doc.Weekly)
}

func TestRankRooms_StableOnTies(t *testing.T) {
	ranked := RankRooms(map[string]domain.RoomCounts{
		"Mars":   {TotalRequests: 2},
		"Gym":    {TotalRequests: 2},
		"Uranus": {TotalRequests: 5},
	})
	require.Equal(t, []string{"Uranus", "Gym", "Mars"}, []string{ranked[0].Name, ranked[1].Name, ranked[2].Name})
}

func TestExportFileName(t *testing.T) {
	name := ExportFileName("stats", time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	require.Equal(t, "stats-20261018T090000Z.json", name)
}

// replayStore keeps the last written copy of every bucket, the way the real
// stores overwrite bucket rows. The first SaveChange can be held open.
type replayStore struct {
	mu      sync.Mutex
	doc     *domain.StatsDocument
	saves   int
	entered chan struct{}
	release chan struct{}
}

func newReplayStore() *replayStore {
	return &replayStore{
		doc:     domain.NewStatsDocument(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *replayStore) LoadStats(context.Context) (*domain.StatsDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone(), nil
}

func (s *replayStore) SaveChange(_ context.Context, change domain.StatsChange) error {
	s.mu.Lock()
	s.saves++
	first := s.saves == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Weekly[change.WeekID] = change.Week.Clone()
	s.doc.Monthly[change.MonthID] = change.Month.Clone()
	s.doc.Total = change.Total.Clone()
	return nil
}

func (s *replayStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func TestConcurrentWrites_PersistInApplyOrder(t *testing.T) {
	store := newReplayStore()
	a, _ := newTestAggregator(t, store)
	ctx := context.Background()

	eventDone := make(chan error, 1)
	go func() {
		eventDone <- a.RecordEvent(ctx, Event{Category: domain.CategoryRoom, From: "+1", Room: "Uranus"})
	}()
	<-store.entered

	sentDone := make(chan error, 1)
	go func() {
		sentDone <- a.RecordSent(ctx)
	}()

	// The later change must wait for the earlier write.
	require.Never(t, func() bool { return store.saveCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	close(store.release)
	require.NoError(t, <-eventDone)
	require.NoError(t, <-sentDone)
	require.Equal(t, 2, store.saveCount())

	live := a.Document()
	reloaded := New(store)
	require.NoError(t, reloaded.Load(ctx))
	got := reloaded.Document()

	require.Equal(t, domain.MessageCounts{Received: 1, Sent: 1, Understood: 1}, live.Total.Messages)
	require.Equal(t, live.Total.Messages, got.Total.Messages)
	require.Equal(t, live.Weekly, got.Weekly)
	require.Equal(t, live.Monthly, got.Monthly)
}

func TestRecordEvent_ReportsNewUserOnce(t *testing.T) {
	store := &fakeStore{}
	a, _ := newTestAggregator(t, store)

	record(t, a, Event{Category: domain.CategoryOther, From: "+1"})
	record(t, a, Event{Category: domain.CategoryOther, From: "+1"})
	require.NoError(t, a.RecordSent(context.Background()))

	require.Len(t, store.changes, 3)
	require.Equal(t, "+1", store.changes[0].User)
	require.Empty(t, store.changes[1].User)
	require.Empty(t, store.changes[2].User)
}
