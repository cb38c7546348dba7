// Package cachekey derives the content key that identifies one synthesized
// audio asset.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/book-expert/emotion-tts/internal/emotion"
)

// KeyLength is the length of every derived key in hex characters.
const KeyLength = sha256.Size * 2

// ErrCanonicalTone is returned when a tone cannot be reduced to its canonical form.
// It indicates a programming or configuration fault, never a cache miss.
var ErrCanonicalTone = errors.New("tone cannot be canonicalized")

// CanonicalTone renders the tone as compact JSON with fields in declared order.
// The result is also the tone snapshot stored alongside each cache entry.
func CanonicalTone(tone emotion.VoiceTone) ([]byte, error) {
	if !tone.InRange() {
		return nil, fmt.Errorf("%w: out of range %+v", ErrCanonicalTone, tone)
	}

	data, err := json.Marshal(tone)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCanonicalTone, err)
	}

	return data, nil
}

// Derive returns the hex SHA-256 of the length-prefixed fields
// (trimmed text, voice, canonical tone, format). Length prefixes keep the
// encoding unambiguous for any field content.
func Derive(text, voice string, tone emotion.VoiceTone, format string) (string, error) {
	canonical, err := CanonicalTone(tone)
	if err != nil {
		return "", err
	}

	var builder strings.Builder

	for _, field := range []string{strings.TrimSpace(text), voice, string(canonical), format} {
		builder.WriteString(strconv.Itoa(len(field)))
		builder.WriteByte(':')
		builder.WriteString(field)
	}

	digest := sha256.Sum256([]byte(builder.String()))

	return hex.EncodeToString(digest[:]), nil
}
