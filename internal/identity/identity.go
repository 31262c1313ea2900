// Package identity derives client identifiers. In production the id is a
// stable pseudonymous hash of the client IP; in development every connection
// gets a random id.
package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const idBytes = 12

type Service struct {
	production bool
	salt1      string
	salt2      string
}

// NewService configures id derivation. environment values "production" and
// "prod" (case-insensitive) select hash-based ids.
func NewService(environment, salt1, salt2 string) *Service {
	env := strings.ToLower(environment)
	return &Service{
		production: env == "production" || env == "prod",
		salt1:      salt1,
		salt2:      salt2,
	}
}

// ClientID returns the 24-hex-char client id for a connection from ip: the
// first 12 bytes of SHA-256(salt1 + ip + salt2) in production, a random id
// otherwise.
func (s *Service) ClientID(ip string) string {
	if !s.production {
		return RandomID()
	}
	sum := sha256.Sum256([]byte(s.salt1 + ip + s.salt2))
	return hex.EncodeToString(sum[:idBytes])
}

// RandomID returns 12 random bytes, hex-encoded.
func RandomID() string {
	b := make([]byte, idBytes)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// NowMillis returns the current wall-clock time in UTC milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
