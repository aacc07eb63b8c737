package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	saltSize        = 16
	hashSeparator   = "$"
	storedHashParts = 2
)

// HashPassword salts and digests a plaintext password. The result has the
// form base64(salt)$base64(sha256(salt||password)).
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	digest := digestPassword(salt, password)
	return base64.StdEncoding.EncodeToString(salt) + hashSeparator + base64.StdEncoding.EncodeToString(digest), nil
}

// VerifyPassword reports whether password matches the stored hash. Malformed
// hashes never match.
func VerifyPassword(password, stored string) bool {
	parts := strings.Split(stored, hashSeparator)
	if len(parts) != storedHashParts {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(salt) == 0 {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(want) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(digestPassword(salt, password), want) == 1
}

func digestPassword(salt []byte, password string) []byte {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}
