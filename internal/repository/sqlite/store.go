// Package sqlite stores user profiles and usage stats in a local SQLite file.
// It serves the long-running server, where a DynamoDB table is not required.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/MoonshotLab/carmen/internal/domain"
)

//go:embed schema.sql
var schema string

const (
	scopeWeek  = "week"
	scopeMonth = "month"
	scopeTotal = "total"
)

// Store wraps the database connection.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at path and applies the schema.
func New(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite: path must not be empty")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}

	// One connection serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	slog.Info("sqlite store opened", "path", path)
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTransaction runs fn in a transaction, rolling back if fn fails.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetUser loads a sender's profile. It returns domain.ErrUserNotFound when no
// profile exists.
func (s *Store) GetUser(ctx context.Context, id string) (domain.UserRecord, error) {
	var (
		lastRoom        sql.NullString
		lastInteraction string
		created         string
		isNew           bool
		user            = domain.UserRecord{ID: id}
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_room, interactions, last_interaction, created_at, is_new FROM users WHERE id = ?`, id,
	).Scan(&lastRoom, &user.InteractionCount, &lastInteraction, &created, &isNew)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserRecord{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserRecord{}, fmt.Errorf("sqlite: GetUser: %w", err)
	}

	user.IsNew = isNew
	if user.LastInteractionAt, err = parseTime(lastInteraction); err != nil {
		return domain.UserRecord{}, fmt.Errorf("sqlite: GetUser last_interaction: %w", err)
	}
	if user.CreatedAt, err = parseTime(created); err != nil {
		return domain.UserRecord{}, fmt.Errorf("sqlite: GetUser created_at: %w", err)
	}
	if lastRoom.Valid && lastRoom.String != "" {
		var room domain.Room
		if err := json.Unmarshal([]byte(lastRoom.String), &room); err != nil {
			return domain.UserRecord{}, fmt.Errorf("sqlite: GetUser last_room: %w", err)
		}
		user.LastRoom = &room
	}
	return user, nil
}

// PutUser writes or replaces a sender's profile.
func (s *Store) PutUser(ctx context.Context, user domain.UserRecord) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("sqlite: PutUser: user id is required")
	}
	var lastRoom sql.NullString
	if user.LastRoom != nil {
		buf, err := json.Marshal(user.LastRoom)
		if err != nil {
			return fmt.Errorf("sqlite: PutUser encode last room: %w", err)
		}
		lastRoom = sql.NullString{String: string(buf), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, last_room, interactions, last_interaction, created_at, is_new)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_room = excluded.last_room,
			interactions = excluded.interactions,
			last_interaction = excluded.last_interaction,
			created_at = excluded.created_at,
			is_new = excluded.is_new`,
		user.ID, lastRoom, user.InteractionCount,
		formatTime(user.LastInteractionAt), formatTime(user.CreatedAt), user.IsNew,
	)
	if err != nil {
		return fmt.Errorf("sqlite: PutUser: %w", err)
	}
	return nil
}

// LoadStats reads every stats bucket and feedback entry into one document.
func (s *Store) LoadStats(ctx context.Context) (*domain.StatsDocument, error) {
	doc := domain.NewStatsDocument()

	rows, err := s.db.QueryContext(ctx, `SELECT scope, period, data FROM stats_buckets`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: LoadStats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var scope, period, data string
		if err := rows.Scan(&scope, &period, &data); err != nil {
			return nil, fmt.Errorf("sqlite: LoadStats scan: %w", err)
		}
		b := domain.NewStatsBucket()
		if err := json.Unmarshal([]byte(data), b); err != nil {
			return nil, fmt.Errorf("sqlite: LoadStats decode %s %s: %w", scope, period, err)
		}
		b = b.Clone()
		switch scope {
		case scopeWeek:
			doc.Weekly[period] = b
		case scopeMonth:
			doc.Monthly[period] = b
		case scopeTotal:
			doc.Total = b
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: LoadStats: %w", err)
	}

	fbRows, err := s.db.QueryContext(ctx, `SELECT sender, text, submitted_at FROM feedback ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: LoadStats feedback: %w", err)
	}
	defer fbRows.Close()
	for fbRows.Next() {
		var entry domain.FeedbackEntry
		var at string
		if err := fbRows.Scan(&entry.From, &entry.Text, &at); err != nil {
			return nil, fmt.Errorf("sqlite: LoadStats feedback scan: %w", err)
		}
		if entry.SubmittedAt, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("sqlite: LoadStats feedback date: %w", err)
		}
		doc.Feedback = append(doc.Feedback, entry)
	}
	if err := fbRows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: LoadStats feedback: %w", err)
	}
	return doc, nil
}

// SaveChange writes the buckets and feedback entry of one event in a single
// transaction.
func (s *Store) SaveChange(ctx context.Context, change domain.StatsChange) error {
	if change.WeekID == "" || change.MonthID == "" {
		return errors.New("sqlite: SaveChange: period ids are required")
	}
	updated := formatTime(s.now())

	err := s.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, b := range []struct {
			scope, period string
			bucket        *domain.StatsBucket
		}{
			{scopeWeek, change.WeekID, change.Week},
			{scopeMonth, change.MonthID, change.Month},
			{scopeTotal, "", change.Total},
		} {
			if b.bucket == nil {
				continue
			}
			data, err := json.Marshal(b.bucket)
			if err != nil {
				return fmt.Errorf("encode %s bucket: %w", b.scope, err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO stats_buckets (scope, period, data, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(scope, period) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
				b.scope, b.period, string(data), updated,
			)
			if err != nil {
				return fmt.Errorf("write %s bucket: %w", b.scope, err)
			}
		}
		if fb := change.Feedback; fb != nil {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO feedback (sender, text, submitted_at) VALUES (?, ?, ?)`,
				fb.From, fb.Text, formatTime(fb.SubmittedAt),
			)
			if err != nil {
				return fmt.Errorf("write feedback: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite: SaveChange: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
