package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordIterations = 1000
	passwordKeyLen     = 64
	saltBytes          = 16
)

// HashPassword derives a pbkdf2-sha256 hash with a fresh random salt. Both
// are hex encoded; the hex salt string itself is the pbkdf2 salt.
func HashPassword(password string) (hash, salt string, err error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	salt = hex.EncodeToString(raw)
	return derive(password, salt), salt, nil
}

// VerifyPassword compares in constant time.
func VerifyPassword(password, hash, salt string) bool {
	return subtle.ConstantTimeCompare([]byte(derive(password, salt)), []byte(hash)) == 1
}

func derive(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), passwordIterations, passwordKeyLen, sha256.New)
	return hex.EncodeToString(key)
}
