package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// allows a future algorithm migration.
const (
	DomainClass     = "moka/class/v1"
	DomainRun       = "moka/run/v1"
	DomainReport    = "moka/report/v1"
	DomainWhitelist = "moka/whitelist/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The separator
// prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Hash is the domain-separated hash of the canonical form of v.
func Hash(domain string, v Value) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("hash %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when v is known to be valid.
func MustHash(domain string, v Value) string {
	h, err := Hash(domain, v)
	if err != nil {
		panic(err)
	}
	return h
}

// ClassDigest identifies one class file by its bytes.
func ClassDigest(b []byte) string {
	return hashWithDomain(DomainClass, b)
}
