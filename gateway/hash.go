package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Digest returns the lower-case hex digest of the ordered concatenation
// of parts. The part order is each bank's documented field order — an
// external contract, not an implementation choice.
func Digest(algorithm HashAlgorithm, parts ...string) string {
	data := []byte(strings.Join(parts, ""))
	if algorithm == HashSHA512 {
		sum := sha512.Sum512(data)
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestUpper is Digest with upper-case hex output, the convention for
// Garanti and Kuveyt Türk.
func DigestUpper(algorithm HashAlgorithm, parts ...string) string {
	return strings.ToUpper(Digest(algorithm, parts...))
}

// HMACDigest returns the lower-case hex HMAC-SHA256 of data under key.
func HMACDigest(data, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// HashEqual compares a caller-supplied hash against the recomputed one
// case-insensitively. Used for every 3-D callback verification.
func HashEqual(supplied, expected string) bool {
	return strings.EqualFold(supplied, expected)
}
