package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/samber/oops"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher derives and checks salted password hashes.
type PasswordHasher interface {
	// Hash derives a hash from password and the account salt.
	Hash(password, salt string) (string, error)

	// Verify reports whether password and salt match hash. A mismatch is
	// (false, nil); a malformed hash is an error.
	Verify(password, salt, hash string) (bool, error)
}

// BcryptHasher hashes password+salt with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a bcrypt hasher. Costs outside bcrypt's range fall
// back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

// saltedInput digests password+salt so the whole concatenation fits in
// bcrypt's 72-byte input limit.
func saltedInput(password, salt string) []byte {
	sum := sha256.Sum256([]byte(password + salt))
	return []byte(hex.EncodeToString(sum[:]))
}

// Hash derives a bcrypt hash of password+salt.
func (h *BcryptHasher) Hash(password, salt string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword(saltedInput(password, salt), h.cost)
	if err != nil {
		return "", oops.With("operation", "bcrypt hash").Wrap(err)
	}
	return string(hash), nil
}

// Verify compares password+salt against a stored bcrypt hash.
func (h *BcryptHasher) Verify(password, salt, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), saltedInput(password, salt))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.With("operation", "bcrypt compare").Wrap(err)
	}
}
