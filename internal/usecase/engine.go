package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/MoonshotLab/carmen/internal/domain"
	"github.com/MoonshotLab/carmen/internal/intent"
	"github.com/MoonshotLab/carmen/internal/session"
	"github.com/MoonshotLab/carmen/internal/stats"
)

const (
	DefaultFollowUpDelay = 5 * time.Second

	// anonymousSender attributes stats for messages that arrive without a sender.
	anonymousSender = "anonymous"
)

type Resolver interface {
	Resolve(normalized string) intent.MatchResult
}

type Sessions interface {
	Open(conversationID string, candidate domain.Room) session.Pending
	Answer(conversationID, normalized string) (session.Resolution, bool)
}

type ProfileStore interface {
	GetUser(ctx context.Context, id string) (domain.UserRecord, error)
	PutUser(ctx context.Context, user domain.UserRecord) error
}

type StatsRecorder interface {
	RecordEvent(ctx context.Context, ev stats.Event) error
	RecordSent(ctx context.Context) error
}

type Sender interface {
	Send(ctx context.Context, reply domain.Reply) error
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

// Engine turns inbound messages into replies and their side effects on user
// profiles and stats.
type Engine struct {
	resolver Resolver
	sessions Sessions
	profiles ProfileStore
	stats    StatsRecorder
	sender   Sender

	siteURL       string
	followUpDelay time.Duration
	now           func() time.Time
	wait          func(ctx context.Context, d time.Duration) error
}

type Option func(*Engine)

// WithSender sets the transport used by Deliver.
func WithSender(s Sender) Option {
	return func(e *Engine) {
		e.sender = s
	}
}

// WithSiteURL sets the base URL room image references resolve against.
func WithSiteURL(siteURL string) Option {
	return func(e *Engine) {
		e.siteURL = strings.TrimRight(strings.TrimSpace(siteURL), "/")
	}
}

// WithFollowUpDelay sets the pause before the image offer. Negative values are ignored.
func WithFollowUpDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d >= 0 {
			e.followUpDelay = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(r Resolver, s Sessions, p ProfileStore, st StatsRecorder, opts ...Option) (*Engine, error) {
	if r == nil {
		return nil, errors.New("usecase: resolver must not be nil")
	}
	if s == nil {
		return nil, errors.New("usecase: session manager must not be nil")
	}
	if p == nil {
		return nil, errors.New("usecase: profile store must not be nil")
	}
	if st == nil {
		return nil, errors.New("usecase: stats recorder must not be nil")
	}
	e := &Engine{
		resolver:      r,
		sessions:      s,
		profiles:      p,
		stats:         st,
		followUpDelay: DefaultFollowUpDelay,
		now:           time.Now,
		wait:          sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Handle processes one inbound message and returns the replies to send, in
// order. A live pending question for the sender is always closed first: the
// message is either its answer or supersedes it.
func (e *Engine) Handle(ctx context.Context, msg domain.InboundMessage) ([]domain.Reply, error) {
	from := strings.TrimSpace(msg.From)
	if from == "" {
		slog.Warn("message without sender", "text", msg.Text)
		e.record(ctx, stats.Event{Category: domain.CategoryNotUnderstood, From: anonymousSender})
		return nil, newError(ErrorInvalidInput, "missing_sender", nil)
	}
	msg.From = from

	normalized := intent.Normalize(msg.Text)
	slog.Info("message received", "from", from, "text", msg.Text)

	if res, ok := e.sessions.Answer(from, normalized); ok {
		return e.handleAnswer(ctx, msg, res), nil
	}

	if normalized == "" {
		return e.notUnderstood(ctx, msg, replyNoMatch), nil
	}

	if intent.IsFeedback(normalized) {
		slog.Info("feedback received", "kind", "feedback", "from", from, "text", msg.Text)
		e.record(ctx, stats.Event{Category: domain.CategoryFeedback, From: from, Text: msg.Text})
		return []domain.Reply{e.text(msg, replyFeedback)}, nil
	}

	if t, ok := intent.ImageRequest(normalized); ok {
		return e.replyWithImage(ctx, msg, t), nil
	}

	match := e.resolver.Resolve(normalized)
	if match.Kind == intent.Exact {
		return e.replyWithRoom(ctx, msg, match.Room), nil
	}

	if talk := intent.ClassifySmallTalk(normalized); talk != intent.SmallTalkNone {
		e.record(ctx, stats.Event{Category: domain.CategoryOther, From: from})
		return []domain.Reply{e.text(msg, smallTalkReply(talk))}, nil
	}

	if match.Kind == intent.Fuzzy {
		p := e.sessions.Open(from, match.Room)
		question := questionFor(match.Room)
		slog.Info("question asked", "from", from, "text", question, "room", match.Room.Name,
			"distance", match.Distance, "expiresAt", p.ExpiresAt)
		e.record(ctx, stats.Event{Category: domain.CategoryNotUnderstood, From: from})
		return []domain.Reply{e.text(msg, question)}, nil
	}

	return e.notUnderstood(ctx, msg, replyNoMatch), nil
}

func (e *Engine) handleAnswer(ctx context.Context, msg domain.InboundMessage, res session.Resolution) []domain.Reply {
	slog.Info("question answered", "from", msg.From, "text", msg.Text,
		"outcome", res.Outcome.String(), "room", res.Pending.Candidate.Name)

	switch res.Outcome {
	case session.Confirmed, session.Reentered:
		if res.Room != nil {
			return e.replyWithRoom(ctx, msg, *res.Room)
		}
		return e.notUnderstood(ctx, msg, replyReentered)
	default:
		return e.notUnderstood(ctx, msg, replyDeclined)
	}
}

// replyWithRoom sends the room's location, offers its images after the
// follow-up delay, and records the request against the sender's profile.
func (e *Engine) replyWithRoom(ctx context.Context, msg domain.InboundMessage, room domain.Room) []domain.Reply {
	profile := e.loadProfile(ctx, msg.From)
	if profile.Failed() {
		return e.apologize(ctx, msg, profile)
	}

	replies := []domain.Reply{e.text(msg, room.Location)}
	if offer := followUpFor(room); offer != "" {
		follow := e.text(msg, offer)
		follow.Delay = e.followUpDelay
		replies = append(replies, follow)
	}

	user := profile.User
	user.LastRoom = &room
	user.Touch(e.now())
	e.saveProfile(ctx, user)

	e.record(ctx, stats.Event{Category: domain.CategoryRoom, From: msg.From, Room: room.Name})
	return replies
}

// replyWithImage sends the picture or map of the sender's last room.
func (e *Engine) replyWithImage(ctx context.Context, msg domain.InboundMessage, t domain.ImageType) []domain.Reply {
	profile := e.loadProfile(ctx, msg.From)
	if profile.Failed() {
		return e.apologize(ctx, msg, profile)
	}

	user := profile.User
	if user.LastRoom == nil {
		e.record(ctx, stats.Event{Category: domain.CategoryOther, From: msg.From})
		return []domain.Reply{e.text(msg, noLastRoomFor(t))}
	}
	room := *user.LastRoom
	ref, ok := room.Image(t)
	if !ok {
		e.record(ctx, stats.Event{Category: domain.CategoryOther, From: msg.From})
		return []domain.Reply{e.text(msg, missingImageFor(t))}
	}

	mediaURL := e.imageURL(ref)
	slog.Info("image sent", "from", msg.From, "room", room.Name, "image", string(t), "url", mediaURL)

	user.Touch(e.now())
	e.saveProfile(ctx, user)
	e.record(ctx, stats.Event{Category: domain.CategoryRoomImage, From: msg.From, Room: room.Name, ImageType: t})

	return []domain.Reply{
		e.text(msg, imageSentFor(t, room)),
		{To: msg.From, MediaURL: mediaURL},
	}
}

// apologize answers a sender whose profile could not be stored.
func (e *Engine) apologize(ctx context.Context, msg domain.InboundMessage, profile ProfileResult) []domain.Reply {
	slog.Error("profile unavailable", "from", msg.From, "source", profile.Source.String(), "err", profile.Err)
	return e.notUnderstood(ctx, msg, replyApology)
}

func (e *Engine) notUnderstood(ctx context.Context, msg domain.InboundMessage, text string) []domain.Reply {
	slog.Info("unknown input", "kind", "unknown", "from", msg.From, "text", msg.Text)
	e.record(ctx, stats.Event{Category: domain.CategoryNotUnderstood, From: msg.From})
	return []domain.Reply{e.text(msg, text)}
}

func (e *Engine) text(msg domain.InboundMessage, text string) domain.Reply {
	return domain.Reply{To: msg.From, Text: text}
}

func (e *Engine) imageURL(ref string) string {
	ref = strings.TrimLeft(ref, "/")
	if e.siteURL == "" {
		return ref
	}
	return e.siteURL + "/" + ref
}

// record applies a stats event. Stats failures never change the reply.
func (e *Engine) record(ctx context.Context, ev stats.Event) {
	if err := e.stats.RecordEvent(ctx, ev); err != nil {
		slog.Error("failed to record stats event", "category", string(ev.Category), "from", ev.From, "err", err)
	}
}

func smallTalkReply(t intent.SmallTalk) string {
	switch t {
	case intent.SmallTalkGreeting:
		return replyGreeting
	case intent.SmallTalkAcknowledge:
		return replyAcknowledge
	default:
		return replyThanks
	}
}
