package trust

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// PasswordHashCost is the bcrypt work factor used outside race builds.
const PasswordHashCost = 12

// dummyPasswordHash is compared against when a sign in targets an unknown
// email so both failure paths spend a bcrypt comparison.
var dummyPasswordHash = sync.OnceValue(func() string {
	return mustHash("trust-dummy-password")
})

// HashPassword will generate a password hash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrNoEmptyString
	}

	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}
	return string(h), nil
}

// ComparePasswordAndHash will validate the given cleartext
// password matches the hashed password
func ComparePasswordAndHash(password, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrMismatchedHashAndPassword
		}
		return errors.Wrap(err, errors.CategoryAuth, "invalid password hash")
	}
	return nil
}

func mustHash(password string) string {
	h, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost())
	if err != nil {
		panic(err)
	}
	return string(h)
}

// Hasher runs bcrypt on a bounded number of workers. Callers waiting for a
// slot give up when their context is done.
type Hasher struct {
	sem         *semaphore.Weighted
	dummy       string
	hashes      atomic.Int64
	comparisons atomic.Int64
}

// HasherStats counts the bcrypt operations a Hasher has run.
type HasherStats struct {
	Hashes      int64
	Comparisons int64
}

// NewHasher creates a Hasher allowing workers concurrent bcrypt operations.
// Non positive values default to runtime.NumCPU(). The dummy hash is built
// here so the first unknown email sign in costs a single comparison.
func NewHasher(workers int) *Hasher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Hasher{
		sem:   semaphore.NewWeighted(int64(workers)),
		dummy: dummyPasswordHash(),
	}
}

// Stats reports the operations run so far.
func (h *Hasher) Stats() HasherStats {
	return HasherStats{
		Hashes:      h.hashes.Load(),
		Comparisons: h.comparisons.Load(),
	}
}

// Hash hashes password once a worker slot is available.
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.acquire(ctx); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	h.hashes.Add(1)
	return HashPassword(password)
}

// Compare checks password against hash once a worker slot is available.
func (h *Hasher) Compare(ctx context.Context, password, hash string) error {
	if err := h.acquire(ctx); err != nil {
		return err
	}
	defer h.sem.Release(1)

	h.comparisons.Add(1)
	return ComparePasswordAndHash(password, hash)
}

// CompareDummy burns one comparison against a fixed hash and always fails.
func (h *Hasher) CompareDummy(ctx context.Context, password string) error {
	if err := h.Compare(ctx, password, h.dummy); err != nil {
		return err
	}
	return ErrMismatchedHashAndPassword
}

func (h *Hasher) acquire(ctx context.Context) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "password hashing cancelled")
	}
	return nil
}
