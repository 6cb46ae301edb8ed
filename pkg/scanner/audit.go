package scanner

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// GenerateAuditToken produces a verifiable trace token binding a verdict
// to the rule set version and the time of the scan. The token is
// base64url("{sig}|{version}|{unix}") where sig is the first 16 hex chars
// of HMAC-SHA256(secret, "{version}|{unix}").
func GenerateAuditToken(secret, version string, now time.Time) string {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s", version, timestamp)
	sig := hex.EncodeToString(mac.Sum(nil))[:16]
	token := sig + "|" + version + "|" + timestamp
	return base64.URLEncoding.EncodeToString([]byte(token))
}

// VerifyAuditToken checks a token's signature and returns the embedded
// rule set version and timestamp.
func VerifyAuditToken(secret, token string) (version string, ts time.Time, ok bool) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", time.Time{}, false
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return "", time.Time{}, false
	}
	sig, version, timestamp := parts[0], parts[1], parts[2]

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s", version, timestamp)
	want := hex.EncodeToString(mac.Sum(nil))[:16]
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return "", time.Time{}, false
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return version, time.Unix(unix, 0), true
}

// RedactedPreview replaces matched text with a hash reference so raw
// input never leaks into results or logs.
func RedactedPreview(matched string) string {
	sum := sha256.Sum256([]byte(matched))
	return "[REDACTED:match:sha256=" + hex.EncodeToString(sum[:])[:16] + "]"
}

