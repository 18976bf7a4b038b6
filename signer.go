package trust

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"math/big"
	"strings"

	"github.com/goliatone/go-errors"
)

// TokenSeparator joins a subject id and its signature.
const TokenSeparator = "."

// MinSecretLength is the minimum accepted HMAC secret size in bytes.
const MinSecretLength = 32

// TokenSigner signs opaque identifiers with HMAC-SHA256. It holds no state
// besides the secret and is safe for concurrent use.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner creates a signer keyed by secret.
func NewTokenSigner(secret []byte) (*TokenSigner, error) {
	if len(secret) < MinSecretLength {
		return nil, errors.New("signing secret is too short", errors.CategoryValidation).
			WithTextCode(TextCodeInvalidConfig).
			WithMetadata(map[string]any{"min_length": MinSecretLength})
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &TokenSigner{secret: key}, nil
}

// Sign returns the base64url (unpadded) HMAC-SHA256 of subjectID.
func (s *TokenSigner) Sign(subjectID string) string {
	return base64.RawURLEncoding.EncodeToString(s.mac(subjectID))
}

// Verify reports whether signature matches subjectID. Any malformed input
// resolves to false.
func (s *TokenSigner) Verify(subjectID, signature string) bool {
	expected := s.Sign(subjectID)
	if len(signature) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// CreateToken composes "<subjectID>.<signature>".
func (s *TokenSigner) CreateToken(subjectID string) string {
	return subjectID + TokenSeparator + s.Sign(subjectID)
}

// VerifyToken splits token on the last separator and checks the signature.
// It returns the subject id only when the token is valid.
func (s *TokenSigner) VerifyToken(token string) (string, bool) {
	idx := strings.LastIndex(token, TokenSeparator)
	if idx <= 0 || idx == len(token)-1 {
		return "", false
	}

	subjectID, signature := token[:idx], token[idx+1:]
	if !s.Verify(subjectID, signature) {
		return "", false
	}

	return subjectID, true
}

func (s *TokenSigner) mac(subjectID string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(subjectID))
	return mac.Sum(nil)
}

var ten = big.NewInt(10)

// GenerateCode returns length uniformly random decimal digits drawn from
// crypto/rand. It is used for out of band codes, not for signatures.
func GenerateCode(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("code length must be positive", errors.CategoryBadInput).
			WithMetadata(map[string]any{"length": length})
	}

	var b strings.Builder
	b.Grow(length)

	for range length {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", errors.Wrap(err, errors.CategoryInternal, "failed to read random source")
		}
		b.WriteByte(byte('0' + n.Int64()))
	}

	return b.String(), nil
}

// GenerateCode is a convenience wrapper so callers holding a signer can mint
// codes through the same component.
func (s *TokenSigner) GenerateCode(length int) (string, error) {
	return GenerateCode(length)
}
