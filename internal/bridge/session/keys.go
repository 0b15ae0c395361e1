package session

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// KeyAccessor reads and writes one channel's session key records. Reads hit a
// per-session cache first and issue at most one batched query per call for the
// misses; the cache also remembers confirmed-absent ids so repeated lookups of
// a missing key stay off the database.
//
// The accessor belongs to exactly one loaded Session and must not be shared
// across channels or processes.
type KeyAccessor struct {
	store     *Store
	channelID string

	mu    sync.Mutex
	cache map[KeyType]map[string]cachedKey
}

type cachedKey struct {
	value  []byte
	absent bool
}

func newKeyAccessor(store *Store, channelID string) *KeyAccessor {
	return &KeyAccessor{
		store:     store,
		channelID: channelID,
		cache:     make(map[KeyType]map[string]cachedKey),
	}
}

// Get returns the values for the requested ids of one key type. Ids that do
// not exist are simply omitted from the result; absence is not an error. An
// empty id set returns an empty map without touching storage.
func (a *KeyAccessor) Get(ctx context.Context, keyType KeyType, ids []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	typed := a.cache[keyType]
	var missing []string
	for _, id := range ids {
		entry, ok := typed[id]
		switch {
		case !ok:
			missing = append(missing, id)
		case entry.absent:
			// Known missing, skip.
		default:
			result[id] = entry.value
		}
	}

	if len(missing) == 0 {
		return result, nil
	}

	fetched, err := a.fetch(ctx, keyType, missing)
	if err != nil {
		return nil, err
	}

	if typed == nil {
		typed = make(map[string]cachedKey)
		a.cache[keyType] = typed
	}
	for _, id := range missing {
		value, ok := fetched[id]
		if !ok {
			typed[id] = cachedKey{absent: true}
			continue
		}
		typed[id] = cachedKey{value: value}
		result[id] = value
	}
	return result, nil
}

// fetch issues one batched query for the given ids and decrypts the hits.
func (a *KeyAccessor) fetch(ctx context.Context, keyType KeyType, ids []string) (map[string][]byte, error) {
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, a.channelID, string(keyType))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := a.store.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT key_id, payload FROM channel_keys
		WHERE channel_id = ? AND key_type = ? AND key_id IN (%s)
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s keys for %s: %w", keyType, a.channelID, err)
	}
	defer rows.Close()

	fetched := make(map[string][]byte, len(ids))
	for rows.Next() {
		var keyID string
		var envelope []byte
		if err := rows.Scan(&keyID, &envelope); err != nil {
			return nil, fmt.Errorf("scan key record: %w", err)
		}
		plaintext, err := a.store.cipher.open(envelope, keyAAD(a.channelID, keyType, keyID))
		if err != nil {
			return nil, &CorruptionError{ChannelID: a.channelID, KeyType: keyType, KeyID: keyID, Err: err}
		}
		fetched[keyID] = plaintext
	}
	return fetched, rows.Err()
}

// Set applies a batch of writes and deletes across key types in one
// transaction. A nil value deletes the record; deleting a record that does not
// exist is a no-op. The credentials row is created lazily if missing so the
// key records have a parent. Last write wins; callers that need atomicity
// across concurrent writers of the same key must serialize themselves.
func (a *KeyAccessor) Set(ctx context.Context, updates map[KeyType]map[string][]byte) error {
	if len(updates) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.ensureCredentialsRow(ctx, a.channelID); err != nil {
		return err
	}

	tx, err := a.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin key write transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			a.store.logger.Error("Failed to rollback key write transaction", err, nil)
		}
	}()

	for keyType, entries := range updates {
		for keyID, value := range entries {
			if value == nil {
				if _, err := tx.ExecContext(ctx, `
					DELETE FROM channel_keys WHERE channel_id = ? AND key_type = ? AND key_id = ?
				`, a.channelID, string(keyType), keyID); err != nil {
					return fmt.Errorf("delete key %s/%s for %s: %w", keyType, keyID, a.channelID, err)
				}
				continue
			}

			envelope, err := a.store.cipher.seal(value, keyAAD(a.channelID, keyType, keyID))
			if err != nil {
				return fmt.Errorf("encrypt key %s/%s for %s: %w", keyType, keyID, a.channelID, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO channel_keys (channel_id, key_type, key_id, payload) VALUES (?, ?, ?, ?)
				ON CONFLICT(channel_id, key_type, key_id) DO UPDATE SET payload = excluded.payload
			`, a.channelID, string(keyType), keyID, envelope); err != nil {
				return fmt.Errorf("upsert key %s/%s for %s: %w", keyType, keyID, a.channelID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key writes for %s: %w", a.channelID, err)
	}

	// Only update the cache after the transaction landed.
	for keyType, entries := range updates {
		typed := a.cache[keyType]
		if typed == nil {
			typed = make(map[string]cachedKey)
			a.cache[keyType] = typed
		}
		for keyID, value := range entries {
			if value == nil {
				typed[keyID] = cachedKey{absent: true}
			} else {
				typed[keyID] = cachedKey{value: value}
			}
		}
	}
	return nil
}
