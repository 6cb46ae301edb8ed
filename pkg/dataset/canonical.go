package dataset

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"gopkg.in/yaml.v3"
)

// Canonicalize renders a dataset document as sorted-key YAML with the
// metadata hmac_signature field elided. This is the exact byte stream the
// signature covers, so signing and verification agree regardless of the
// key order in the source file.
func Canonicalize(doc map[string]any) ([]byte, error) {
	copied := make(map[string]any, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	if meta, ok := copied["metadata"].(map[string]any); ok {
		metaCopy := make(map[string]any, len(meta))
		for k, v := range meta {
			if k == "hmac_signature" {
				continue
			}
			metaCopy[k] = v
		}
		copied["metadata"] = metaCopy
	}
	return yaml.Marshal(copied)
}

// Sign computes the hex HMAC-SHA256 signature of the canonical document.
func Sign(doc map[string]any, secret []byte) (string, error) {
	content, err := Canonicalize(doc)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(content)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature checks a claimed signature in constant time.
func VerifySignature(doc map[string]any, secret []byte, signature string) (bool, error) {
	want, err := Sign(doc, secret)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(want), []byte(signature)), nil
}
