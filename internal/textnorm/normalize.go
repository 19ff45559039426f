// Package textnorm implements the content-hash normalization used for
// memory dedup: NFC Unicode normalize, lowercase, trim, collapse interior
// whitespace to single spaces, then SHA-256 hex-encode.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Canonicalize applies the normalization steps without hashing, for
// display or comparison purposes.
func Canonicalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)
	return collapseWhitespace(s)
}

// ContentHash computes the dedup key for memory content: lowercase, trim,
// collapse whitespace, SHA-256, hex-encode. Any change to these steps
// requires a re-hash migration across every stored memory.
func ContentHash(content string) string {
	canon := Canonicalize(content)
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:])
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
