package auth

import (
	"errors"
	"strings"
	"testing"
)

// newTestCredentials uses bcrypt cost 4 (the library minimum) so tests run
// in milliseconds instead of ~250ms per hash.
func newTestCredentials() *Credentials {
	return NewCredentialsWithCost(4)
}

// =========================================================================
// Hash TESTS
// =========================================================================

func TestHash_OutputLooksBcrypt(t *testing.T) {
	c := newTestCredentials()

	hash, err := c.Hash("password123")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	// bcrypt hashes always start with $2a$ or $2b$
	if !strings.HasPrefix(hash, "$2") {
		t.Errorf("Hash() does not look like a bcrypt hash: %q", hash)
	}
}

func TestHash_SamePasswordProducesDifferentHashes(t *testing.T) {
	c := newTestCredentials()

	hash1, _ := c.Hash("same-password")
	hash2, _ := c.Hash("same-password")
	if hash1 == hash2 {
		t.Error("Hash() produced identical hashes for the same password (salt must be random)")
	}
}

func TestHash_LengthLimit(t *testing.T) {
	c := newTestCredentials()

	if _, err := c.Hash(strings.Repeat("a", MaxPasswordLength)); err != nil {
		t.Fatalf("Hash() should accept a 72-byte password, got error: %v", err)
	}
	if _, err := c.Hash(strings.Repeat("a", MaxPasswordLength+1)); err == nil {
		t.Fatal("Hash() should return an error for passwords longer than 72 bytes")
	}
}

// =========================================================================
// Verify TESTS
// =========================================================================

func TestVerify(t *testing.T) {
	c := newTestCredentials()
	hash, err := c.Hash("correct-horse-battery-staple")
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}

	if err := c.Verify(hash, "correct-horse-battery-staple"); err != nil {
		t.Errorf("Verify() should return nil for a correct password, got: %v", err)
	}
	if err := c.Verify(hash, "the-wrong-password"); !errors.Is(err, ErrCredentialMismatch) {
		t.Errorf("Verify(wrong) error = %v, want ErrCredentialMismatch", err)
	}
	if err := c.Verify(hash, ""); !errors.Is(err, ErrCredentialMismatch) {
		t.Errorf("Verify(empty) error = %v, want ErrCredentialMismatch", err)
	}
}

func TestVerify_GarbageHash(t *testing.T) {
	c := newTestCredentials()

	err := c.Verify("not-a-valid-bcrypt-hash", "password")
	if err == nil {
		t.Fatal("Verify() should return an error for a garbage hash")
	}
	if errors.Is(err, ErrCredentialMismatch) {
		t.Error("a corrupt hash is not a mismatch")
	}
}

func TestVerifyMissing_AlwaysMismatch(t *testing.T) {
	c := newTestCredentials()
	if err := c.VerifyMissing("anything"); !errors.Is(err, ErrCredentialMismatch) {
		t.Errorf("VerifyMissing() error = %v, want ErrCredentialMismatch", err)
	}
}

func TestHashVerify_RoundTrip(t *testing.T) {
	c := newTestCredentials()

	cases := []struct {
		name     string
		password string
	}{
		{"simple alphanumeric", "hello123"},
		{"special characters", "p@$$w0rd!#%"},
		{"unicode", "пароль-密码"},
		{"whitespace", "  leading and trailing  "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hash, err := c.Hash(tc.password)
			if err != nil {
				t.Fatalf("Hash(%q) error = %v", tc.password, err)
			}
			if err := c.Verify(hash, tc.password); err != nil {
				t.Errorf("Verify() failed for %q: %v", tc.password, err)
			}
		})
	}
}
