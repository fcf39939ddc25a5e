package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

var ErrCodeGeneration = errors.New("code generation failed")

const (
	codeSaltSize   = 16
	codeHashIters  = 10000
	codeHashKeyLen = 32
)

// CodeHasher hashes short one-time codes for storage. Plaintext codes are
// never persisted.
type CodeHasher interface {
	Hash(code string) (hash, salt string, err error)
	Compare(hash, salt, code string) bool
}

type pbkdf2Hasher struct{}

// NewCodeHasher returns a salted PBKDF2-SHA256 code hasher
func NewCodeHasher() CodeHasher {
	return &pbkdf2Hasher{}
}

func (h *pbkdf2Hasher) Hash(code string) (string, string, error) {
	salt := make([]byte, codeSaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", "", ErrCodeGeneration
	}
	key := pbkdf2.Key([]byte(code), salt, codeHashIters, codeHashKeyLen, sha256.New)
	return hex.EncodeToString(key), hex.EncodeToString(salt), nil
}

func (h *pbkdf2Hasher) Compare(hash, salt, code string) bool {
	rawSalt, err := hex.DecodeString(salt)
	if err != nil {
		return false
	}
	rawHash, err := hex.DecodeString(hash)
	if err != nil {
		return false
	}
	key := pbkdf2.Key([]byte(code), rawSalt, codeHashIters, codeHashKeyLen, sha256.New)
	return subtle.ConstantTimeCompare(key, rawHash) == 1
}

// GenerateNumericCode returns a cryptographically random fixed-length
// numeric code, zero-padded.
func GenerateNumericCode(length int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < length; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", ErrCodeGeneration
	}
	code := n.String()
	for len(code) < length {
		code = "0" + code
	}
	return code, nil
}

// HashIdentifier produces a stable peppered digest of a contact identity,
// used to key rate-limit counters without ever storing the raw identity.
func HashIdentifier(pepper, identifier string) string {
	sum := sha256.Sum256([]byte(pepper + ":" + identifier))
	return hex.EncodeToString(sum[:])
}
