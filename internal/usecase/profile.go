package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MoonshotLab/carmen/internal/domain"
)

// ProfileSource tells where a loaded profile came from.
type ProfileSource int

const (
	// ProfileStored is an existing record.
	ProfileStored ProfileSource = iota
	// ProfileCreated is a blank record saved for a first-contact sender.
	ProfileCreated
	// ProfileRecovered is a blank record saved after the read failed.
	ProfileRecovered
	// ProfileUnavailable is a blank record that could not be saved.
	ProfileUnavailable
)

func (s ProfileSource) String() string {
	switch s {
	case ProfileStored:
		return "stored"
	case ProfileCreated:
		return "created"
	case ProfileRecovered:
		return "recovered"
	case ProfileUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// ProfileResult is the outcome of loading a sender's profile. User is always
// usable; Err holds the persistence failure, if any.
type ProfileResult struct {
	User   domain.UserRecord
	Source ProfileSource
	Err    error
}

// Failed reports whether the sender should get the apology reply.
func (r ProfileResult) Failed() bool {
	return r.Source == ProfileUnavailable
}

// loadProfile reads the sender's profile. A missing or unreadable record is
// replaced by a blank one, which is saved before use.
func (e *Engine) loadProfile(ctx context.Context, id string) ProfileResult {
	user, err := e.profiles.GetUser(ctx, id)
	if err == nil {
		return ProfileResult{User: user, Source: ProfileStored}
	}

	source := ProfileCreated
	if !errors.Is(err, domain.ErrUserNotFound) {
		slog.Warn("failed to load user, starting from a blank record", "from", id, "err", err)
		source = ProfileRecovered
	}

	blank := domain.NewUserRecord(id, e.now())
	if saveErr := e.profiles.PutUser(ctx, blank); saveErr != nil {
		return ProfileResult{User: blank, Source: ProfileUnavailable, Err: errors.Join(errIfNotFound(err), saveErr)}
	}
	return ProfileResult{User: blank, Source: source, Err: errIfNotFound(err)}
}

func errIfNotFound(err error) error {
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil
	}
	return err
}

// saveProfile writes an updated profile. Failures are logged only.
func (e *Engine) saveProfile(ctx context.Context, user domain.UserRecord) {
	if err := e.profiles.PutUser(ctx, user); err != nil {
		slog.Error("failed to update user", "from", user.ID, "err", err)
	}
}
