// Package identity maps external references (handles, ids) to stable internal
// user ids and derives display labels for them. Both operations are pure: no
// directory lookups, no randomness, so attribution is reproducible offline.
package identity

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Resolve normalizes an external reference and derives the internal user id
// for it. Case-insensitive; a single leading sigil (@ or +) is stripped.
func Resolve(externalRef string) string {
	normalized := Normalize(externalRef)
	if normalized == "" {
		return ""
	}
	sum := sha1.Sum([]byte(normalized))
	return "u_" + hex.EncodeToString(sum[:])[:16]
}

// Normalize lowercases and strips one leading sigil from a handle.
func Normalize(externalRef string) string {
	trimmed := strings.TrimSpace(externalRef)
	if len(trimmed) > 0 && (trimmed[0] == '@' || trimmed[0] == '+') {
		trimmed = trimmed[1:]
	}
	return strings.ToLower(trimmed)
}

// DisplayFor derives the anonymous display label for a user id:
// "@u_" plus the last 6 hex characters of sha1(userID).
//
// This is a privacy convenience, not a security control: the label is
// reversible by brute force over small handle spaces. Access control is
// enforced by roles and ring ownership, never by label opacity.
func DisplayFor(userID string) string {
	sum := sha1.Sum([]byte(userID))
	encoded := hex.EncodeToString(sum[:])
	return "@u_" + encoded[len(encoded)-6:]
}
