package session

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	sterrors "errors"

	"github.com/drblury/chatbridge/internal/bridge/errors"
)

// KeySize is the required AES-256 key length in bytes.
const KeySize = 32

const nonceSize = 12

// KeyProvider supplies encryption key material. The one-byte key id is stored
// in every envelope so keys can be rotated without re-encrypting existing
// records: new writes use the active key, reads look up whichever key sealed
// the record.
type KeyProvider interface {
	// ActiveKey returns the id and material of the key used for new writes.
	ActiveKey() (id byte, key []byte, err error)
	// LookupKey returns the material for a key id found in a stored envelope.
	LookupKey(id byte) ([]byte, error)
}

// StaticKeyProvider is a KeyProvider backed by a single fixed key.
type StaticKeyProvider struct {
	key []byte
}

const staticKeyID byte = 1

// NewStaticKeyProvider creates a provider for a single 32-byte key.
func NewStaticKeyProvider(key []byte) (*StaticKeyProvider, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("chatbridge: encryption key must be %d bytes, got %d", KeySize, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &StaticKeyProvider{key: k}, nil
}

func (p *StaticKeyProvider) ActiveKey() (byte, []byte, error) {
	return staticKeyID, p.key, nil
}

func (p *StaticKeyProvider) LookupKey(id byte) ([]byte, error) {
	if id != staticKeyID {
		return nil, fmt.Errorf("chatbridge: unknown encryption key id %d", id)
	}
	return p.key, nil
}

// CorruptionError reports that one stored record failed to decrypt or parse.
// It is scoped to a single channel: the caller should force re-pairing of that
// channel and leave everything else alone.
type CorruptionError struct {
	ChannelID string
	KeyType   KeyType
	KeyID     string
	Err       error
}

func (e *CorruptionError) Error() string {
	if e.KeyID == "" {
		return fmt.Sprintf("chatbridge: corrupted credentials for channel %s: %v", e.ChannelID, e.Err)
	}
	return fmt.Sprintf("chatbridge: corrupted key record %s/%s for channel %s: %v", e.KeyType, e.KeyID, e.ChannelID, e.Err)
}

func (e *CorruptionError) Unwrap() error {
	return e.Err
}

// IsCorruption reports whether err wraps a CorruptionError.
func IsCorruption(err error) bool {
	var ce *CorruptionError
	return sterrors.As(err, &ce)
}

// recordCipher seals and opens record payloads with AES-256-GCM. Envelope
// layout: keyID(1) || nonce(12) || ciphertext+tag. The additional data binds
// the record to its storage identity so an attacker with database access
// cannot swap encrypted blobs between rows.
type recordCipher struct {
	provider KeyProvider
}

func newRecordCipher(provider KeyProvider) (*recordCipher, error) {
	if provider == nil {
		return nil, errors.ErrKeyProviderRequired
	}
	return &recordCipher{provider: provider}, nil
}

func (c *recordCipher) seal(plaintext, aad []byte) ([]byte, error) {
	keyID, key, err := c.provider.ActiveKey()
	if err != nil {
		return nil, fmt.Errorf("get active encryption key: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	envelope := make([]byte, 0, 1+nonceSize+len(plaintext)+aead.Overhead())
	envelope = append(envelope, keyID)
	envelope = append(envelope, nonce...)
	return aead.Seal(envelope, nonce, plaintext, aad), nil
}

func (c *recordCipher) open(envelope, aad []byte) ([]byte, error) {
	if len(envelope) < 1+nonceSize {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(envelope))
	}

	key, err := c.provider.LookupKey(envelope[0])
	if err != nil {
		return nil, fmt.Errorf("look up encryption key: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := envelope[1 : 1+nonceSize]
	plaintext, err := aead.Open(nil, nonce, envelope[1+nonceSize:], aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt record: %w", err)
	}
	return plaintext, nil
}

func newAEAD(key []byte) (gocipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}

// credentialsAAD and keyAAD derive the additional authenticated data for the
// two record families. The NUL separator keeps distinct identities from
// colliding after concatenation.
func credentialsAAD(channelID string) []byte {
	return []byte("credentials\x00" + channelID)
}

func keyAAD(channelID string, keyType KeyType, keyID string) []byte {
	return []byte("key\x00" + channelID + "\x00" + string(keyType) + "\x00" + keyID)
}
