package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/netip"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body
const SignatureHeader = "X-Webhook-Signature"

// VerifySignature checks a hex HMAC-SHA256 of payload. A "sha256=" prefix is accepted.
func VerifySignature(payload []byte, signatureHeader, secret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	sig = strings.TrimPrefix(strings.ToLower(sig), "sha256=")
	secret = strings.TrimSpace(secret)
	if sig == "" || secret == "" {
		return false
	}

	expected, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign returns the signature VerifySignature accepts for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(strings.TrimSpace(secret)))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// AddressAllowed reports whether addr matches an allowlist entry or the "*" wildcard.
// IPv4-mapped IPv6 forms (::ffff:1.2.3.4) match their IPv4 entry.
func AddressAllowed(addr string, allowlist []string) bool {
	client, clientOK := normalizeAddr(addr)
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == "*" {
			return true
		}
		allowed, ok := normalizeAddr(entry)
		if ok && clientOK {
			if allowed == client {
				return true
			}
			continue
		}
		if entry != "" && strings.TrimPrefix(entry, "::ffff:") == strings.TrimPrefix(strings.TrimSpace(addr), "::ffff:") {
			return true
		}
	}
	return false
}

func normalizeAddr(s string) (netip.Addr, bool) {
	a, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}
