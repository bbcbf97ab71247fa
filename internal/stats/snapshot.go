package stats

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/MoonshotLab/carmen/internal/domain"
)

// RoomStat is one entry of a ranked room list.
type RoomStat struct {
	Name          string `json:"name"`
	TotalRequests int    `json:"totalRequests"`
	MapRequests   int    `json:"mapRequests"`
	PicRequests   int    `json:"picRequests"`
}

// BucketView is the read-only projection of a bucket.
type BucketView struct {
	ID       string               `json:"id"`
	Num      int                  `json:"num,omitempty"`
	Name     string               `json:"name,omitempty"`
	Messages domain.MessageCounts `json:"messages"`
	Users    []string             `json:"users"`
	Rooms    []RoomStat           `json:"rooms"`
}

// Snapshot is the formatted stats export.
type Snapshot struct {
	Week     BucketView             `json:"week"`
	Month    BucketView             `json:"month"`
	Total    BucketView             `json:"total"`
	Feedback []domain.FeedbackEntry `json:"feedback"`
}

// Snapshot returns the current week, month and all-time views with rooms
// ranked by total requests. Periods without activity yield blank views.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().In(a.loc)
	_, weekNum := now.ISOWeek()

	week := view(WeekID(now), a.doc.Weekly[WeekID(now)])
	week.Num = weekNum
	month := view(MonthID(now), a.doc.Monthly[MonthID(now)])
	month.Num = int(now.Month())
	month.Name = now.Month().String()

	return Snapshot{
		Week:     week,
		Month:    month,
		Total:    view("total", a.doc.Total),
		Feedback: append([]domain.FeedbackEntry{}, a.doc.Feedback...),
	}
}

func view(id string, b *domain.StatsBucket) BucketView {
	v := BucketView{ID: id, Users: []string{}, Rooms: []RoomStat{}}
	if b == nil {
		return v
	}
	v.Messages = b.Messages
	v.Users = b.Users.Sorted()
	v.Rooms = RankRooms(b.Rooms)
	return v
}

// RankRooms orders rooms by total requests, highest first. Equal counts keep
// name order so the output is stable.
func RankRooms(rooms map[string]domain.RoomCounts) []RoomStat {
	out := make([]RoomStat, 0, len(rooms))
	for name, c := range rooms {
		out = append(out, RoomStat{
			Name:          name,
			TotalRequests: c.TotalRequests,
			MapRequests:   c.MapRequests,
			PicRequests:   c.PicRequests,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalRequests != out[j].TotalRequests {
			return out[i].TotalRequests > out[j].TotalRequests
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// MarshalDocument encodes the full stats document for download.
func MarshalDocument(doc *domain.StatsDocument) ([]byte, error) {
	buf, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("stats: encode document: %w", err)
	}
	return buf, nil
}

// UnmarshalDocument decodes a document produced by MarshalDocument.
func UnmarshalDocument(data []byte) (*domain.StatsDocument, error) {
	doc := domain.NewStatsDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("stats: decode document: %w", err)
	}
	return doc.Clone(), nil
}

// ExportFileName stamps an export file name, e.g. "stats-20261018T090000Z.json".
func ExportFileName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s-%s.json", prefix, t.UTC().Format("20060102T150405Z"))
}
