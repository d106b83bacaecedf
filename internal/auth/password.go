package auth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Password length limits. bcrypt only reads the first 72 bytes, so longer
// inputs are rejected rather than silently truncated.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// ErrCredentialMismatch means the plaintext does not match the stored hash.
var ErrCredentialMismatch = errors.New("auth: credential mismatch")

// defaultCost is the bcrypt work factor. Cost 12 takes roughly 250ms on a
// modern server: negligible for a login, expensive for brute force.
const defaultCost = 12

// Credentials is the credential store: it turns a plaintext password into
// an opaque hash and later checks a plaintext against that hash. The hash
// embeds its own salt and cost, so it is the only thing persisted
// (model.Account.CredentialHash).
type Credentials struct {
	cost int

	dummyOnce sync.Once
	dummy     []byte
}

// NewCredentials returns a store using the default bcrypt cost.
func NewCredentials() *Credentials {
	return &Credentials{cost: defaultCost}
}

// NewCredentialsWithCost is for tests in other packages: cost 4 (the
// bcrypt minimum) hashes in about a millisecond. Never use it in production.
func NewCredentialsWithCost(cost int) *Credentials {
	return &Credentials{cost: cost}
}

// Hash hashes plaintext with bcrypt. Passwords over 72 bytes are rejected.
//
// The output is a self-contained string like:
//
//	$2a$12$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy
func (c *Credentials) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordLength {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordLength)
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), c.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil if plaintext matches hash and ErrCredentialMismatch if
// it does not. Any other error means the stored hash is unusable.
// bcrypt compares in constant time.
func (c *Credentials) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrCredentialMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// VerifyMissing burns the same bcrypt work as Verify against a throwaway
// hash. Login calls it when no account has the email, so response time does
// not reveal which emails are registered. It always returns
// ErrCredentialMismatch.
func (c *Credentials) VerifyMissing(plaintext string) error {
	c.dummyOnce.Do(func() {
		c.dummy, _ = bcrypt.GenerateFromPassword([]byte("nutrition-tracker-dummy"), c.cost)
	})
	_ = bcrypt.CompareHashAndPassword(c.dummy, []byte(plaintext))
	return ErrCredentialMismatch
}
