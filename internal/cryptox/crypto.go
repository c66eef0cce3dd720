// Package cryptox derives password verifiers for server accounts and
// generates random tokens.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/argon2"
)

const SaltSize = 16

// DeriveMasterKey stretches password with argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

// MakeVerifier hashes a derived key so the key itself is never stored.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// HashPassword returns a fresh salt and the verifier to store for password.
func HashPassword(password string) (salt, verifier []byte, err error) {
	salt, err = RandomBytes(SaltSize)
	if err != nil {
		return nil, nil, err
	}
	return salt, MakeVerifier(DeriveMasterKey([]byte(password), salt)), nil
}

// CheckPassword compares in constant time.
func CheckPassword(password string, salt, verifier []byte) bool {
	candidate := MakeVerifier(DeriveMasterKey([]byte(password), salt))
	return subtle.ConstantTimeCompare(verifier, candidate) == 1
}

func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// RandomHex returns 2n hex characters.
func RandomHex(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
