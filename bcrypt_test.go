package trust_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	trust "github.com/goliatone/go-trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordProducesSaltedBcrypt(t *testing.T) {
	first, err := trust.HashPassword(testPassword)
	require.NoError(t, err)
	second, err := trust.HashPassword(testPassword)
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "every hash is salted")
	assert.True(t, strings.HasPrefix(first, "$2a$"))

	cost, err := bcrypt.Cost([]byte(first))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cost, bcrypt.DefaultCost)

	_, err = trust.HashPassword("")
	assert.Same(t, trust.ErrNoEmptyString, err)
}

func TestComparePasswordAndHashOutcomes(t *testing.T) {
	hash := hashFor(t, testPassword)

	tests := []struct {
		name     string
		password string
		hash     string
		want     error
		isHash   bool
	}{
		{name: "match", password: testPassword, hash: hash},
		{name: "mismatch", password: testPassword + "!", hash: hash, want: trust.ErrMismatchedHashAndPassword},
		{name: "case sensitive", password: strings.ToUpper(testPassword), hash: hash, want: trust.ErrMismatchedHashAndPassword},
		{name: "malformed hash", password: testPassword, hash: "$2a$12$short", isHash: true},
		{name: "not a hash", password: testPassword, hash: "plaintext", isHash: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := trust.ComparePasswordAndHash(tt.password, tt.hash)
			switch {
			case tt.isHash:
				require.Error(t, err)
				assert.NotSame(t, trust.ErrMismatchedHashAndPassword, err)
			case tt.want != nil:
				assert.Same(t, tt.want, err)
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func TestHasher(t *testing.T) {
	ctx := context.Background()
	hasher := trust.NewHasher(2)

	hash, err := hasher.Hash(ctx, "pa55word!")
	require.NoError(t, err)

	assert.NoError(t, hasher.Compare(ctx, "pa55word!", hash))
	assert.Same(t, trust.ErrMismatchedHashAndPassword, hasher.Compare(ctx, "other", hash))
	assert.Same(t, trust.ErrMismatchedHashAndPassword, hasher.CompareDummy(ctx, "pa55word!"))
}

func TestHasherSharedAcrossGoroutines(t *testing.T) {
	ctx := context.Background()
	hasher := trust.NewHasher(1)
	hash := hashFor(t, testPassword)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = hasher.Compare(ctx, testPassword, hash)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestHasherCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := trust.NewHasher(1).Hash(ctx, "pa55word!")
	require.Error(t, err)
	assert.NotSame(t, trust.ErrMismatchedHashAndPassword, err)
}
