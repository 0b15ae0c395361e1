// Package session implements durable, encrypted, lazily-loaded persistence of
// per-channel credential bundles and session key records.
//
// Loading a session reads only the credentials row; key records are fetched in
// batches on demand through a per-session accessor, so reconnect cost does not
// grow with the number of accumulated keys. Every payload is sealed
// independently with AES-256-GCM, so corruption of one record never blocks the
// rest of the channel's state.
//
// The design assumes a single writer per channel: exactly one executor process
// owns a channel's live connection at a time, and a session's key cache must
// never be shared across channels or processes.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/chatbridge/internal/bridge/errors"
	"github.com/drblury/chatbridge/internal/bridge/logging"
)

// Store persists channel credentials and session key records in SQLite.
type Store struct {
	db     *sql.DB
	cipher *recordCipher
	logger logging.ServiceLogger
}

// Metadata describes a channel's stored state without decrypting anything.
type Metadata struct {
	Exists    bool
	CreatedAt time.Time
	UpdatedAt time.Time
	KeyCount  int64
}

// Open opens (or creates) the session database at path. Use ":memory:" for
// tests.
func Open(path string, provider KeyProvider, logger logging.ServiceLogger) (*Store, error) {
	if logger == nil {
		return nil, errors.ErrLoggerRequired
	}
	cipher, err := newRecordCipher(provider)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		cipher: cipher,
		logger: logger.With(logging.LogFields{"component": "session_store"}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize session schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS channel_credentials (
		channel_id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS channel_keys (
		channel_id TEXT NOT NULL REFERENCES channel_credentials(channel_id) ON DELETE CASCADE,
		key_type TEXT NOT NULL,
		key_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (channel_id, key_type, key_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Session is one channel's loaded credential state plus a lazy key accessor.
type Session struct {
	ChannelID string

	// Credentials is the decrypted credential bundle. The bytes are opaque to
	// the store; the executor owns their structure.
	Credentials []byte

	// Fresh is true when no credentials row existed at load time.
	Fresh bool

	// Keys batches and caches session key records for this channel.
	Keys *KeyAccessor

	store *Store
}

// Load reads the credentials row for channelID, or initializes a fresh session
// when none exists. Key records are never touched here; the cost is
// independent of how many keys the channel has accumulated.
func (s *Store) Load(ctx context.Context, channelID string) (*Session, error) {
	if channelID == "" {
		return nil, errors.ErrChannelIDRequired
	}

	sess := &Session{
		ChannelID: channelID,
		store:     s,
	}
	sess.Keys = newKeyAccessor(s, channelID)

	var envelope []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM channel_credentials WHERE channel_id = ?`, channelID,
	).Scan(&envelope)
	switch {
	case err == sql.ErrNoRows:
		sess.Fresh = true
		return sess, nil
	case err != nil:
		return nil, fmt.Errorf("load credentials for %s: %w", channelID, err)
	}

	plaintext, err := s.cipher.open(envelope, credentialsAAD(channelID))
	if err != nil {
		return nil, &CorruptionError{ChannelID: channelID, Err: err}
	}

	sess.Credentials = plaintext
	return sess, nil
}

// SaveCredentials encrypts and upserts the session's credential bundle.
func (sess *Session) SaveCredentials(ctx context.Context) error {
	envelope, err := sess.store.cipher.seal(sess.Credentials, credentialsAAD(sess.ChannelID))
	if err != nil {
		return fmt.Errorf("encrypt credentials for %s: %w", sess.ChannelID, err)
	}

	_, err = sess.store.db.ExecContext(ctx, `
		INSERT INTO channel_credentials (channel_id, payload) VALUES (?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP
	`, sess.ChannelID, envelope)
	if err != nil {
		return fmt.Errorf("save credentials for %s: %w", sess.ChannelID, err)
	}

	sess.Fresh = false
	return nil
}

// DeleteAll removes every key record for the channel, then the credentials
// row. Absence at any step is success, not an error.
func (s *Store) DeleteAll(ctx context.Context, channelID string) error {
	if channelID == "" {
		return errors.ErrChannelIDRequired
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Error("Failed to rollback delete transaction", err, nil)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_keys WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete key records for %s: %w", channelID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_credentials WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete credentials for %s: %w", channelID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete for %s: %w", channelID, err)
	}

	s.logger.Debug("Deleted channel session state", logging.LogFields{"channelID": channelID})
	return nil
}

// Exists reports whether a credentials row is stored for channelID.
func (s *Store) Exists(ctx context.Context, channelID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM channel_credentials WHERE channel_id = ?`, channelID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check existence of %s: %w", channelID, err)
	}
	return true, nil
}

// Metadata reports stored state for channelID without decrypting payloads.
func (s *Store) Metadata(ctx context.Context, channelID string) (Metadata, error) {
	var md Metadata
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, updated_at FROM channel_credentials WHERE channel_id = ?`, channelID,
	).Scan(&md.CreatedAt, &md.UpdatedAt)
	if err == sql.ErrNoRows {
		return Metadata{}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata for %s: %w", channelID, err)
	}
	md.Exists = true

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM channel_keys WHERE channel_id = ?`, channelID,
	).Scan(&md.KeyCount)
	if err != nil {
		return Metadata{}, fmt.Errorf("count keys for %s: %w", channelID, err)
	}
	return md, nil
}

// ensureCredentialsRow lazily creates an empty credentials row so key records
// have a parent. The placeholder payload is a sealed empty bundle.
func (s *Store) ensureCredentialsRow(ctx context.Context, channelID string) error {
	envelope, err := s.cipher.seal(nil, credentialsAAD(channelID))
	if err != nil {
		return fmt.Errorf("encrypt placeholder credentials for %s: %w", channelID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO channel_credentials (channel_id, payload) VALUES (?, ?)
		ON CONFLICT(channel_id) DO NOTHING
	`, channelID, envelope)
	if err != nil {
		return fmt.Errorf("create credentials row for %s: %w", channelID, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
