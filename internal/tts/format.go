package tts

import (
	"errors"
	"fmt"
	"strings"
)

// Audio formats the provider can return.
const (
	FormatMP3 = "mp3"
	FormatWAV = "wav"
	FormatOGG = "ogg"
)

// ErrUnsupportedFormat indicates an audio format with no known MIME type.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

var mimeTypes = map[string]string{
	FormatMP3: "audio/mpeg",
	FormatWAV: "audio/wav",
	FormatOGG: "audio/ogg",
}

// NormalizeFormat lower-cases the format and strips a leading dot.
func NormalizeFormat(format string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), "."))
}

// MimeType returns the MIME type of an audio format.
func MimeType(format string) (string, error) {
	mimeType, ok := mimeTypes[NormalizeFormat(format)]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	return mimeType, nil
}
