package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

func HMACSHA512Hex(secret string, msg []byte) string {
	m := hmac.New(sha512.New, []byte(secret))
	m.Write(msg)
	return hex.EncodeToString(m.Sum(nil))
}

func HMACSHA256Hex(secret string, msg []byte) string {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write(msg)
	return hex.EncodeToString(m.Sum(nil))
}

// EqualHex compares two hex digests in constant time, ignoring case.
func EqualHex(want, got string) bool {
	w, err1 := hex.DecodeString(strings.ToLower(strings.TrimSpace(want)))
	g, err2 := hex.DecodeString(strings.ToLower(strings.TrimSpace(got)))
	if err1 != nil || err2 != nil || len(w) == 0 {
		return false
	}
	return hmac.Equal(w, g)
}

// EqualSecret compares shared secrets in constant time.
func EqualSecret(want, got string) bool {
	if want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
