package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/modhub/message-delivery-service/internal/domain/model"
)

// SQLite adapts the message tables of the platform database to the Store
// contract, plus the moderator-membership lookup used at community join.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database and ensures the schema exists.
func OpenSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			sender_id    INTEGER NOT NULL,
			recipient_id INTEGER NOT NULL,
			community_id INTEGER,
			subject      TEXT NOT NULL DEFAULT '',
			body         TEXT NOT NULL DEFAULT '',
			is_read      INTEGER NOT NULL DEFAULT 0,
			read_at      TIMESTAMP,
			created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_messages_recipient_unread
			ON messages (recipient_id, is_read, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_messages_community
			ON messages (community_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS community_memberships (
			user_id      INTEGER NOT NULL,
			community_id INTEGER NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending',
			role         TEXT NOT NULL DEFAULT 'member',
			PRIMARY KEY (user_id, community_id)
		);
	`)
	return err
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) FindMessage(ctx context.Context, id int64) (model.MessageEvent, error) {
	var (
		ev     model.MessageEvent
		readAt sql.NullTime
		comm   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sender_id, recipient_id, community_id, subject, body, is_read, read_at, created_at, updated_at
		FROM messages WHERE id = ?`, id,
	).Scan(&ev.ID, &ev.SenderID, &ev.RecipientID, &comm, &ev.Subject, &ev.Body, &ev.IsRead, &readAt, &ev.CreatedAt, &ev.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MessageEvent{}, ErrNotFound
	}
	if err != nil {
		return model.MessageEvent{}, fmt.Errorf("store: find message %d: %w", id, err)
	}
	if comm.Valid {
		ev.CommunityID = &comm.Int64
	}
	if readAt.Valid {
		ev.ReadAt = &readAt.Time
	}
	return ev, nil
}

// MarkRead relies on the guarded UPDATE for atomicity: exactly one caller
// flips the row, every other caller reads back the timestamp that stuck.
func (s *SQLite) MarkRead(ctx context.Context, id int64, at time.Time) (time.Time, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read = 1, read_at = ?, updated_at = ?
		WHERE id = ? AND is_read = 0`, at, at, id)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: mark read %d: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: mark read %d: %w", id, err)
	}
	if affected == 1 {
		return at, false, nil
	}

	var readAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `SELECT read_at FROM messages WHERE id = ?`, id).Scan(&readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, ErrNotFound
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("store: mark read %d: %w", id, err)
	}
	if !readAt.Valid {
		// Row exists, is_read toggled off between statements; treat the
		// caller's timestamp as rejected and report the unread state.
		return time.Time{}, false, fmt.Errorf("store: mark read %d: inconsistent read state", id)
	}
	return readAt.Time, true, nil
}

func (s *SQLite) CountUnread(ctx context.Context, userID int64, communityID *int64) (int, error) {
	var (
		count int
		err   error
	)
	if communityID != nil {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE recipient_id = ? AND is_read = 0 AND community_id = ?`, userID, *communityID).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM messages
			WHERE recipient_id = ? AND is_read = 0`, userID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("store: count unread for user %d: %w", userID, err)
	}
	return count, nil
}

// IsModerator checks for an approved moderator-grade membership, matching
// the roles the community endpoint admits.
func (s *SQLite) IsModerator(ctx context.Context, userID, communityID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM community_memberships
		WHERE user_id = ? AND community_id = ?
		  AND status = 'approved'
		  AND role IN ('owner', 'admin_moderator', 'moderator')`, userID, communityID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: membership lookup user=%d community=%d: %w", userID, communityID, err)
	}
	return true, nil
}
