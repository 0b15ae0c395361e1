package relay

import (
	"context"
	"database/sql"
	sterrors "errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrChannelUnknown reports that no status row exists for the channel. Events
// can legitimately race channel deletion, so the relay logs and drops on this.
var ErrChannelUnknown = sterrors.New("chatbridge: unknown channel")

// Status is a channel's persisted connection state.
type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
)

// ChannelStatus is the persisted projection of a channel's connection state.
// Only the relay mutates it.
type ChannelStatus struct {
	ChannelID       string
	State           Status
	Identifier      string
	LastConnectedAt time.Time
}

// StatusStore persists channel status projections. Implementations must make
// MarkConnected and MarkDisconnected idempotent: applying the same event twice
// leaves the row byte-identical to applying it once.
type StatusStore interface {
	// Create registers a channel in DISCONNECTED state. Called at channel
	// creation, outside the relay's event path.
	Create(ctx context.Context, channelID string) error
	Get(ctx context.Context, channelID string) (ChannelStatus, error)
	MarkConnecting(ctx context.Context, channelID string) error
	MarkConnected(ctx context.Context, channelID, identifier string, at time.Time) error
	MarkDisconnected(ctx context.Context, channelID string) error
	// Delete removes the row together with its channel.
	Delete(ctx context.Context, channelID string) error
}

// SQLiteStatusStore is the StatusStore implementation backing single-node
// deployments.
type SQLiteStatusStore struct {
	db *sql.DB
}

// OpenStatusStore opens (or creates) the status database at path. Use
// ":memory:" for tests.
func OpenStatusStore(path string) (*SQLiteStatusStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open status database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS channel_status (
		channel_id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		identifier TEXT NOT NULL DEFAULT '',
		last_connected_at TIMESTAMP
	);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize status schema: %w", err)
	}
	return &SQLiteStatusStore{db: db}, nil
}

func (s *SQLiteStatusStore) Create(ctx context.Context, channelID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_status (channel_id, state) VALUES (?, ?)
		ON CONFLICT(channel_id) DO NOTHING
	`, channelID, string(StatusDisconnected))
	if err != nil {
		return fmt.Errorf("create status for %s: %w", channelID, err)
	}
	return nil
}

func (s *SQLiteStatusStore) Get(ctx context.Context, channelID string) (ChannelStatus, error) {
	var (
		st              ChannelStatus
		state           string
		lastConnectedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, state, identifier, last_connected_at
		FROM channel_status WHERE channel_id = ?
	`, channelID).Scan(&st.ChannelID, &state, &st.Identifier, &lastConnectedAt)
	if err == sql.ErrNoRows {
		return ChannelStatus{}, ErrChannelUnknown
	}
	if err != nil {
		return ChannelStatus{}, fmt.Errorf("get status for %s: %w", channelID, err)
	}
	st.State = Status(state)
	if lastConnectedAt.Valid {
		st.LastConnectedAt = lastConnectedAt.Time
	}
	return st, nil
}

func (s *SQLiteStatusStore) MarkConnecting(ctx context.Context, channelID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE channel_status SET state = ? WHERE channel_id = ? AND state != ?
	`, string(StatusConnecting), channelID, string(StatusConnecting))
	if err != nil {
		return fmt.Errorf("mark %s connecting: %w", channelID, err)
	}
	return s.requireRow(ctx, channelID, result)
}

// MarkConnected sets CONNECTED with the given identifier and timestamp. The
// conditional WHERE makes duplicates no-ops, so lastConnectedAt never moves on
// a replayed event.
func (s *SQLiteStatusStore) MarkConnected(ctx context.Context, channelID, identifier string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE channel_status
		SET state = ?, identifier = ?, last_connected_at = ?
		WHERE channel_id = ? AND NOT (state = ? AND identifier = ?)
	`, string(StatusConnected), identifier, at.UTC(), channelID, string(StatusConnected), identifier)
	if err != nil {
		return fmt.Errorf("mark %s connected: %w", channelID, err)
	}
	return s.requireRow(ctx, channelID, result)
}

func (s *SQLiteStatusStore) MarkDisconnected(ctx context.Context, channelID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE channel_status SET state = ? WHERE channel_id = ? AND state != ?
	`, string(StatusDisconnected), channelID, string(StatusDisconnected))
	if err != nil {
		return fmt.Errorf("mark %s disconnected: %w", channelID, err)
	}
	return s.requireRow(ctx, channelID, result)
}

func (s *SQLiteStatusStore) Delete(ctx context.Context, channelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM channel_status WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete status for %s: %w", channelID, err)
	}
	return nil
}

// requireRow distinguishes "conditional update skipped" (idempotent success)
// from "row does not exist" after a zero-row UPDATE.
func (s *SQLiteStatusStore) requireRow(ctx context.Context, channelID string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM channel_status WHERE channel_id = ?`, channelID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrChannelUnknown
	}
	return err
}

// Close closes the underlying database.
func (s *SQLiteStatusStore) Close() error {
	return s.db.Close()
}
