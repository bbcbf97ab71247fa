// Package intent maps normalized message text to catalog rooms and to the
// small set of conversational intents the agent understands.
package intent

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/MoonshotLab/carmen/internal/domain"
)

// DefaultFuzzyThreshold is the largest edit distance accepted by the fuzzy fallback.
const DefaultFuzzyThreshold = 3

// MatchKind tags a MatchResult.
type MatchKind int

const (
	NoMatch MatchKind = iota
	Exact
	Fuzzy
)

func (k MatchKind) String() string {
	switch k {
	case Exact:
		return "exact"
	case Fuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

// MatchResult is the outcome of Resolve. Room and Distance are only set for
// Exact and Fuzzy results; Distance is always 0 for Exact.
type MatchResult struct {
	Kind     MatchKind
	Room     domain.Room
	Distance int
}

// questionPhrases are stripped from the front of a query before fuzzy
// matching. Longer phrases come first so "help me find" wins over "find".
var questionPhrases = []string{
	"can you tell me where",
	"help me find",
	"where is",
	"wheres",
	"where are",
	"tell me",
	"locate",
	"search",
	"find",
}

type roomMatcher struct {
	room int
	boundaryMatcher
}

// Resolver resolves queries against a fixed room list. The matcher table is
// built once; Resolve is safe for concurrent use.
type Resolver struct {
	rooms     []domain.Room
	names     []string
	matchers  []roomMatcher
	threshold int
}

type Option func(*Resolver)

// WithThreshold sets the fuzzy edit-distance threshold. Negative values are ignored.
func WithThreshold(threshold int) Option {
	return func(r *Resolver) {
		if threshold >= 0 {
			r.threshold = threshold
		}
	}
}

// NewResolver precompiles boundary-safe matchers for every room name and
// alternate name, in catalog order.
func NewResolver(rooms []domain.Room, opts ...Option) *Resolver {
	r := &Resolver{
		rooms:     append([]domain.Room(nil), rooms...),
		names:     make([]string, len(rooms)),
		threshold: DefaultFuzzyThreshold,
	}
	for _, opt := range opts {
		opt(r)
	}

	for i, room := range r.rooms {
		r.names[i] = Normalize(room.Name)
		for _, name := range append([]string{room.Name}, room.AlternateNames...) {
			if m, ok := newBoundaryMatcher(name); ok {
				r.matchers = append(r.matchers, roomMatcher{room: i, boundaryMatcher: m})
			}
		}
	}
	return r
}

// Threshold returns the configured fuzzy threshold.
func (r *Resolver) Threshold() int {
	return r.threshold
}

// Resolve runs the exact/alternate match and, only if that fails, the fuzzy
// fallback. The query must already be normalized.
func (r *Resolver) Resolve(normalized string) MatchResult {
	if room, ok := r.MatchExact(normalized); ok {
		return MatchResult{Kind: Exact, Room: room}
	}
	if room, distance, ok := r.MatchFuzzy(normalized); ok {
		return MatchResult{Kind: Fuzzy, Room: room, Distance: distance}
	}
	return MatchResult{Kind: NoMatch}
}

// MatchExact returns the first room in catalog order whose name or alternate
// name appears in the query on word boundaries.
func (r *Resolver) MatchExact(normalized string) (domain.Room, bool) {
	if normalized == "" {
		return domain.Room{}, false
	}
	for _, m := range r.matchers {
		if m.match(normalized) {
			return r.rooms[m.room], true
		}
	}
	return domain.Room{}, false
}

// MatchFuzzy strips leading question phrases and returns the room whose
// canonical name is nearest by edit distance. Ties keep the earlier room.
func (r *Resolver) MatchFuzzy(normalized string) (domain.Room, int, bool) {
	query := StripQuestionPhrases(normalized)
	if query == "" || len(r.rooms) == 0 {
		return domain.Room{}, 0, false
	}

	best, bestDistance := -1, 0
	for i, name := range r.names {
		d := levenshtein.ComputeDistance(query, name)
		if best < 0 || d < bestDistance {
			best, bestDistance = i, d
		}
	}
	if best < 0 || bestDistance > r.threshold {
		return domain.Room{}, 0, false
	}
	return r.rooms[best], bestDistance, true
}

// StripQuestionPhrases removes leading question phrases such as "where is"
// from a normalized query.
func StripQuestionPhrases(normalized string) string {
	q := strings.TrimSpace(normalized)
	for {
		stripped := false
		for _, phrase := range questionPhrases {
			if q == phrase {
				return ""
			}
			if strings.HasPrefix(q, phrase+" ") {
				q = strings.TrimSpace(q[len(phrase):])
				stripped = true
				break
			}
		}
		if !stripped {
			return q
		}
	}
}
