// Package mask provides deterministic one-way masking of patron and item
// identifiers so transaction logs stay correlatable without carrying PII.
package mask

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMasterKeyMissing is returned when masking is attempted without a
// configured master key.
var ErrMasterKeyMissing = errors.New("mask: master key not configured")

// Redacted replaces secret values such as passwords and PINs outright.
const Redacted = "********"

// maxDepth caps MaskPayload recursion.
const maxDepth = 32

// Masker computes keyed one-way masks. The zero value has no key and fails
// every Mask call with ErrMasterKeyMissing.
type Masker struct {
	key []byte
}

// New creates a Masker from a process-wide master key. The key must be at
// least 32 characters of hex-encoded material.
func New(key string) (*Masker, error) {
	key = strings.TrimSpace(key)
	if len(key) < 32 {
		return nil, ErrMasterKeyMissing
	}
	return &Masker{key: []byte(key)}, nil
}

// Mask maps a value to "MASKED_" plus the first sixteen hex characters of its
// HMAC-SHA-256. Equal inputs always produce equal masks under the same key;
// empty input passes through unchanged.
func (m *Masker) Mask(s string) (string, error) {
	if m == nil || len(m.key) == 0 {
		return "", ErrMasterKeyMissing
	}
	if s == "" {
		return s, nil
	}
	mac := hmac.New(sha256.New, m.key)
	mac.Write([]byte(s))
	return "MASKED_" + hex.EncodeToString(mac.Sum(nil))[:16], nil
}

// key categories for MaskPayload
func isSecretKey(k string) bool {
	lk := strings.ToLower(k)
	return strings.Contains(lk, "password") || strings.Contains(lk, "pin") ||
		lk == "cq" || lk == "co"
}

func isIdentifierKey(k string) bool {
	lk := strings.ToLower(k)
	for _, needle := range []string{
		"patronidentifier", "patronbarcode", "itemidentifier", "itembarcode", "personalname",
	} {
		if strings.Contains(lk, needle) {
			return true
		}
	}
	return lk == "aa" || lk == "ab" || lk == "ae"
}

// MaskPayload walks a JSON-shaped value and returns a copy with secret fields
// replaced by asterisks and identifier fields by their deterministic mask.
// The input is never mutated.
func (m *Masker) MaskPayload(v interface{}) (interface{}, error) {
	return m.maskValue(v, 0)
}

func (m *Masker) maskValue(v interface{}, depth int) (interface{}, error) {
	if depth > maxDepth {
		return v, nil
	}
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, entry := range val {
			switch {
			case isSecretKey(k):
				if _, isStr := entry.(string); isStr {
					out[k] = Redacted
				} else {
					out[k] = entry
				}
			case isIdentifierKey(k):
				if s, isStr := entry.(string); isStr {
					masked, err := m.Mask(s)
					if err != nil {
						return nil, err
					}
					out[k] = masked
				} else {
					out[k] = entry
				}
			default:
				masked, err := m.maskValue(entry, depth+1)
				if err != nil {
					return nil, err
				}
				out[k] = masked
			}
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, entry := range val {
			masked, err := m.maskValue(entry, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = masked
		}
		return out, nil
	default:
		return v, nil
	}
}
