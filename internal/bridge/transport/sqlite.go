package transport

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/chatbridge/internal/bridge/jsoncodec"
)

func init() {
	Register("sqlite", buildSQLiteBus)
}

const (
	busPollInterval = 100 * time.Millisecond
	busLockDuration = 30 * time.Second
	busMaxRetries   = 3
)

func buildSQLiteBus(_ context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	bus, err := NewSQLiteBus(cfg.GetBusSQLiteFile(), logger)
	if err != nil {
		return Transport{}, err
	}
	return Transport{Publisher: bus, Subscriber: bus}, nil
}

// SQLiteBus is a durable single-process message bus backed by a SQLite file.
// Commands and lifecycle events queued while the consumer is down are
// delivered after restart; messages that keep failing land in a dead-letter
// table instead of looping forever.
type SQLiteBus struct {
	db     *sql.DB
	logger watermill.LoggerAdapter

	closed   bool
	closedMu sync.RWMutex
	closing  chan struct{}
	wg       sync.WaitGroup
}

// NewSQLiteBus opens (or creates) the bus database at path. Use ":memory:"
// for tests.
func NewSQLiteBus(path string, logger watermill.LoggerAdapter) (*SQLiteBus, error) {
	if path == "" {
		path = "chatbridge_bus.db"
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open bus database: %w", err)
	}

	// A single connection serializes writers; SQLite does not like concurrent
	// write transactions on separate connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	bus := &SQLiteBus{
		db:      db,
		logger:  logger,
		closing: make(chan struct{}),
	}

	if err := bus.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize bus schema: %w", err)
	}
	return bus, nil
}

func (b *SQLiteBus) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bus_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		available_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		locked_until TIMESTAMP,
		retry_count INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_bus_messages_topic ON bus_messages(topic, available_at);

	CREATE TABLE IF NOT EXISTS bus_dead_letters (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL,
		topic TEXT NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT,
		reason TEXT,
		failed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Publish enqueues messages durably. The write is transactional across the
// whole batch.
func (b *SQLiteBus) Publish(topic string, messages ...*message.Message) error {
	b.closedMu.RLock()
	if b.closed {
		b.closedMu.RUnlock()
		return fmt.Errorf("bus is closed")
	}
	b.closedMu.RUnlock()

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("begin publish transaction: %w", err)
	}
	defer rollback(tx, b.logger)

	stmt, err := tx.Prepare(`
		INSERT INTO bus_messages (uuid, topic, payload, metadata, available_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.Exec(msg.UUID, topic, msg.Payload, string(metadata), now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// Subscribe polls the queue for the given topic until ctx is cancelled or the
// bus is closed.
func (b *SQLiteBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	b.closedMu.RLock()
	if b.closed {
		b.closedMu.RUnlock()
		return nil, fmt.Errorf("bus is closed")
	}
	b.closedMu.RUnlock()

	out := make(chan *message.Message)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(out)

		ticker := time.NewTicker(busPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-b.closing:
				return
			case <-ticker.C:
				b.deliverNext(ctx, topic, out)
			}
		}
	}()

	return out, nil
}

type queuedMessage struct {
	id       int64
	uuid     string
	payload  []byte
	metadata string
}

func (b *SQLiteBus) deliverNext(ctx context.Context, topic string, out chan<- *message.Message) {
	qm, ok := b.claimNext(ctx, topic)
	if !ok {
		return
	}

	msg := message.NewMessage(qm.uuid, qm.payload)
	if qm.metadata != "" {
		if err := jsoncodec.Unmarshal([]byte(qm.metadata), &msg.Metadata); err != nil && b.logger != nil {
			b.logger.Error("Failed to unmarshal message metadata", err, nil)
		}
	}
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata)
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		b.unlock(qm.id)
		return
	case <-b.closing:
		b.unlock(qm.id)
		return
	}

	select {
	case <-msg.Acked():
		b.ack(qm.id)
	case <-msg.Nacked():
		b.nack(qm.id, topic)
	case <-ctx.Done():
		b.unlock(qm.id)
	case <-b.closing:
		b.unlock(qm.id)
	}
}

// claimNext fetches the oldest available message for topic and locks it so a
// concurrent subscriber on the same topic cannot pick it up.
func (b *SQLiteBus) claimNext(ctx context.Context, topic string) (queuedMessage, bool) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return queuedMessage{}, false
	}
	defer rollback(tx, b.logger)

	now := time.Now().UTC()

	var qm queuedMessage
	err = tx.QueryRowContext(ctx, `
		SELECT id, uuid, payload, metadata
		FROM bus_messages
		WHERE topic = ?
		AND available_at <= ?
		AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY id ASC
		LIMIT 1
	`, topic, now, now).Scan(&qm.id, &qm.uuid, &qm.payload, &qm.metadata)
	if err != nil {
		if err != sql.ErrNoRows && b.logger != nil {
			b.logger.Error("Failed to fetch queued message", err, nil)
		}
		return queuedMessage{}, false
	}

	if _, err := tx.ExecContext(ctx, `UPDATE bus_messages SET locked_until = ? WHERE id = ?`,
		now.Add(busLockDuration), qm.id); err != nil {
		return queuedMessage{}, false
	}
	if err := tx.Commit(); err != nil {
		return queuedMessage{}, false
	}
	return qm, true
}

func (b *SQLiteBus) ack(id int64) {
	if _, err := b.db.Exec(`DELETE FROM bus_messages WHERE id = ?`, id); err != nil && b.logger != nil {
		b.logger.Error("Failed to ack message", err, nil)
	}
}

func (b *SQLiteBus) nack(id int64, topic string) {
	var retryCount int
	if err := b.db.QueryRow(`SELECT retry_count FROM bus_messages WHERE id = ?`, id).Scan(&retryCount); err != nil {
		if b.logger != nil {
			b.logger.Error("Failed to read retry count", err, nil)
		}
		return
	}

	if retryCount >= busMaxRetries {
		if _, err := b.db.Exec(`
			INSERT INTO bus_dead_letters (uuid, topic, payload, metadata, reason)
			SELECT uuid, topic, payload, metadata, 'max retries exceeded'
			FROM bus_messages WHERE id = ?
		`, id); err != nil && b.logger != nil {
			b.logger.Error("Failed to move message to dead letters", err, nil)
		}
		b.ack(id)
		return
	}

	// Linear backoff keeps a poison message from hot-looping the poller.
	availableAt := time.Now().UTC().Add(time.Duration(retryCount+1) * time.Second)
	if _, err := b.db.Exec(`
		UPDATE bus_messages
		SET retry_count = retry_count + 1, locked_until = NULL, available_at = ?
		WHERE id = ?
	`, availableAt, id); err != nil && b.logger != nil {
		b.logger.Error("Failed to nack message", err, nil)
	}
}

func (b *SQLiteBus) unlock(id int64) {
	if _, err := b.db.Exec(`UPDATE bus_messages SET locked_until = NULL WHERE id = ?`, id); err != nil && b.logger != nil {
		b.logger.Error("Failed to unlock message", err, nil)
	}
}

// PendingCount reports how many messages are queued for a topic.
func (b *SQLiteBus) PendingCount(topic string) (int64, error) {
	var count int64
	err := b.db.QueryRow(`SELECT COUNT(*) FROM bus_messages WHERE topic = ?`, topic).Scan(&count)
	return count, err
}

// DeadLetterCount reports how many messages failed permanently for a topic.
func (b *SQLiteBus) DeadLetterCount(topic string) (int64, error) {
	var count int64
	err := b.db.QueryRow(`SELECT COUNT(*) FROM bus_dead_letters WHERE topic = ?`, topic).Scan(&count)
	return count, err
}

// ReplayDeadLetters moves all dead letters for a topic back onto the queue.
func (b *SQLiteBus) ReplayDeadLetters(topic string) (int64, error) {
	tx, err := b.db.Begin()
	if err != nil {
		return 0, err
	}
	defer rollback(tx, b.logger)

	result, err := tx.Exec(`
		INSERT INTO bus_messages (uuid, topic, payload, metadata, retry_count)
		SELECT uuid || '-replay-' || ?, topic, payload, metadata, 0
		FROM bus_dead_letters WHERE topic = ?
	`, time.Now().UnixNano(), topic)
	if err != nil {
		return 0, err
	}
	affected, _ := result.RowsAffected()

	if _, err := tx.Exec(`DELETE FROM bus_dead_letters WHERE topic = ?`, topic); err != nil {
		return 0, err
	}
	return affected, tx.Commit()
}

// Close stops all pollers and closes the database.
func (b *SQLiteBus) Close() error {
	b.closedMu.Lock()
	if b.closed {
		b.closedMu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closing)
	b.closedMu.Unlock()

	b.wg.Wait()
	return b.db.Close()
}

func rollback(tx *sql.Tx, logger watermill.LoggerAdapter) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone && logger != nil {
		logger.Error("Failed to rollback transaction", err, nil)
	}
}
