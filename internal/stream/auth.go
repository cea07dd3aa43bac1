package stream

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthorized is returned by [Authenticator.Verify] for a missing or
// wrong API key.
var ErrUnauthorized = errors.New("stream: unauthorized")

// HashAPIKey returns the lower-case hex SHA-256 digest of key, the format
// stored in server.api_key_hash.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Authenticator checks the connection-level API key. Only the digest of the
// key is held in memory.
type Authenticator struct {
	digest []byte
}

// NewAuthenticator parses a hex SHA-256 digest. An empty digest yields an
// authenticator that rejects every key.
func NewAuthenticator(hexDigest string) (*Authenticator, error) {
	hexDigest = strings.TrimSpace(hexDigest)
	if hexDigest == "" {
		return &Authenticator{}, nil
	}
	d, err := hex.DecodeString(hexDigest)
	if err != nil || len(d) != sha256.Size {
		return nil, fmt.Errorf("stream: api key hash must be %d hex-encoded bytes", sha256.Size)
	}
	return &Authenticator{digest: d}, nil
}

// Verify returns nil when key hashes to the configured digest.
func (a *Authenticator) Verify(key string) error {
	if len(a.digest) == 0 || key == "" {
		return ErrUnauthorized
	}
	sum := sha256.Sum256([]byte(key))
	if subtle.ConstantTimeCompare(sum[:], a.digest) != 1 {
		return ErrUnauthorized
	}
	return nil
}
