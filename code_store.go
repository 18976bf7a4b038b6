package trust

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/redis/go-redis/v9"
)

// DefaultCodeKeyPrefix namespaces one-time codes in the store.
const DefaultCodeKeyPrefix = "trust:code:"

// CodePurpose scopes a one-time code so a code issued for one flow cannot be
// replayed in another.
type CodePurpose string

const (
	CodePurposeTwoFactor     CodePurpose = "2fa"
	CodePurposePasswordReset CodePurpose = "reset"
)

// CodeStore keeps short-lived one-time codes. Codes are stored hashed.
type CodeStore interface {
	Put(ctx context.Context, purpose CodePurpose, subject, code string, ttl time.Duration) error
	// Consume checks code and deletes it on success. A missing, expired or
	// wrong code yields (false, nil).
	Consume(ctx context.Context, purpose CodePurpose, subject, code string) (bool, error)
}

// RedisCodeStore implements CodeStore on Redis.
type RedisCodeStore struct {
	client redis.UniversalClient
	prefix string
}

var _ CodeStore = (*RedisCodeStore)(nil)

// NewRedisCodeStore creates a code store backed by client.
func NewRedisCodeStore(client redis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{
		client: client,
		prefix: DefaultCodeKeyPrefix,
	}
}

func (r *RedisCodeStore) key(purpose CodePurpose, subject string) string {
	return r.prefix + string(purpose) + ":" + subject
}

func (r *RedisCodeStore) Put(ctx context.Context, purpose CodePurpose, subject, code string, ttl time.Duration) error {
	if subject == "" || code == "" {
		return errors.New("code subject and value are required", errors.CategoryBadInput)
	}

	if err := r.client.Set(ctx, r.key(purpose, subject), hashCode(code), ttl).Err(); err != nil {
		return storeUnavailable(err, "code_put")
	}
	return nil
}

func (r *RedisCodeStore) Consume(ctx context.Context, purpose CodePurpose, subject, code string) (bool, error) {
	if subject == "" || code == "" {
		return false, nil
	}

	key := r.key(purpose, subject)
	stored, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, storeUnavailable(err, "code_get")
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashCode(code))) != 1 {
		return false, nil
	}

	// only the caller that deletes the key wins a concurrent race
	deleted, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, storeUnavailable(err, "code_delete")
	}

	return deleted == 1, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
