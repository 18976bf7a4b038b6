package trust

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// DefaultSessionKeyPrefix namespaces session keys in the store.
const DefaultSessionKeyPrefix = "trust:session:"

// sessionEntropyBytes is the amount of randomness hashed into a session id.
const sessionEntropyBytes = 32

// SessionIDLength is the length of ids produced by GenerateSessionID.
const SessionIDLength = sha256.Size * 2

// SessionStore keeps ephemeral sessions in a key-value store with TTL expiry.
type SessionStore interface {
	// Create writes the session under id, overwriting any existing record.
	Create(ctx context.Context, sessionID string, ttl time.Duration, session *Session) error
	// Get returns (nil, nil) when the session is absent or expired.
	Get(ctx context.Context, sessionID string) (*Session, error)
	// Delete is idempotent.
	Delete(ctx context.Context, sessionID string) error
}

// RedisSessionStore implements SessionStore on Redis. Every call is a round
// trip; nothing is cached locally.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

var _ SessionStore = (*RedisSessionStore)(nil)

// RedisSessionStoreOption configures a RedisSessionStore.
type RedisSessionStoreOption func(*RedisSessionStore)

// WithSessionKeyPrefix overrides the key prefix.
func WithSessionKeyPrefix(prefix string) RedisSessionStoreOption {
	return func(s *RedisSessionStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisSessionStore creates a session store backed by client.
func NewRedisSessionStore(client redis.UniversalClient, opts ...RedisSessionStoreOption) *RedisSessionStore {
	s := &RedisSessionStore{
		client: client,
		prefix: DefaultSessionKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (r *RedisSessionStore) key(sessionID string) string {
	return r.prefix + sessionID
}

func (r *RedisSessionStore) Create(ctx context.Context, sessionID string, ttl time.Duration, session *Session) error {
	if sessionID == "" || session == nil {
		return errors.New("session id and session are required", errors.CategoryBadInput)
	}

	if ttl <= 0 {
		return errors.New("session ttl must be positive", errors.CategoryBadInput).
			WithMetadata(map[string]any{"ttl": ttl.String()})
	}

	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to encode session")
	}

	if err := r.client.Set(ctx, r.key(sessionID), data, ttl).Err(); err != nil {
		return storeUnavailable(err, "create")
	}

	return nil
}

func (r *RedisSessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, nil
	}

	data, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, storeUnavailable(err, "get")
	}

	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to decode session").
			WithMetadata(map[string]any{"session": shortID(sessionID)})
	}
	session.ID = sessionID

	return session, nil
}

// TTL returns the remaining lifetime of a session, zero when it is gone.
func (r *RedisSessionStore) TTL(ctx context.Context, sessionID string) (time.Duration, error) {
	ttl, err := r.client.PTTL(ctx, r.key(sessionID)).Result()
	if err != nil {
		return 0, storeUnavailable(err, "ttl")
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}

	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return storeUnavailable(err, "delete")
	}

	return nil
}

// GenerateSessionID hashes 256 bits of crypto/rand output together with the
// current time and returns the hex encoded SHA-256 digest.
func GenerateSessionID() (string, error) {
	return generateSessionID(rand.Reader, time.Now())
}

func generateSessionID(random io.Reader, now time.Time) (string, error) {
	buf := make([]byte, sessionEntropyBytes+8)
	if _, err := io.ReadFull(random, buf[:sessionEntropyBytes]); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to read random source")
	}
	binary.BigEndian.PutUint64(buf[sessionEntropyBytes:], uint64(now.UnixNano()))

	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
