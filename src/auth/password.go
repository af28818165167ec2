package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltLen             = 16
)

// Password holds the Argon2id hash of the configured admin password. The plain
// text is dropped once hashed.
type Password struct {
	salt []byte
	hash []byte
}

func NewPassword(plain string) (*Password, error) {
	if plain == "" {
		return nil, fmt.Errorf("admin password is empty")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("password salt: %w", err)
	}
	return &Password{salt: salt, hash: hashPassword([]byte(plain), salt)}, nil
}

// Verify compares a login attempt in constant time.
func (p *Password) Verify(candidate string) bool {
	got := hashPassword([]byte(candidate), p.salt)
	return subtle.ConstantTimeCompare(got, p.hash) == 1
}

func hashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}
