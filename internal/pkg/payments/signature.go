package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"
)

func verifyHMAC(payload, expectedSig, secret []byte, hashFunc func() hash.Hash) bool {
	mac := hmac.New(hashFunc, secret)
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expectedSig)
}

// verifyHexHMACSHA512 checks a hex-encoded HMAC-SHA512 signature over the
// raw body, as used by Paystack's x-paystack-signature header.
func verifyHexHMACSHA512(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}
	decoded, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil {
		return false
	}
	return verifyHMAC(payload, decoded, []byte(secret), sha512.New)
}

// verifyBase64HMACSHA256 checks a base64-encoded HMAC-SHA256 signature over
// the raw body.
func verifyBase64HMACSHA256(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	if sig == "" || secret == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	return verifyHMAC(payload, decoded, []byte(secret), sha256.New)
}

// constantTimeEquals compares two strings without leaking their length of
// agreement through timing.
func constantTimeEquals(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
