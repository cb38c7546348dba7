// Package text prepares journal text for the speech provider.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

// Regex patterns for content that should not be read aloud.
const (
	urlRegexPattern        = `https?://\S+`
	emailRegexPattern      = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	whitespaceRegexPattern = `\s+`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

// Preprocessor cleans text before synthesis. It is safe for concurrent use.
type Preprocessor struct {
	urlPattern        *regexp.Regexp
	emailPattern      *regexp.Regexp
	whitespacePattern *regexp.Regexp
	symbolReplacer    *strings.Replacer
}

// NewPreprocessor creates a preprocessor with compiled patterns.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		urlPattern:        regexp.MustCompile(urlRegexPattern),
		emailPattern:      regexp.MustCompile(emailRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		symbolReplacer: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// SpeechText removes links and addresses, normalizes dashes and quotes,
// collapses repeated punctuation and whitespace, and trims the result.
func (p *Preprocessor) SpeechText(text string) string {
	if text == "" {
		return text
	}

	cleaned := p.urlPattern.ReplaceAllString(text, " ")
	cleaned = p.emailPattern.ReplaceAllString(cleaned, " ")
	cleaned = p.symbolReplacer.Replace(cleaned)
	cleaned = collapseRepeatedPunctuation(cleaned)
	cleaned = p.whitespacePattern.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned)
}

// collapseRepeatedPunctuation keeps one of each run of the same mark, so
// "정말?!!!" becomes "정말?!". Runs of dots are kept as an ellipsis of at
// most three, since the provider reads it as a pause.
func collapseRepeatedPunctuation(text string) string {
	var (
		builder strings.Builder
		last    rune
		run     int
	)

	builder.Grow(len(text))

	for _, char := range text {
		if char == last {
			run++
		} else {
			run = 1
		}

		last = char

		if unicode.IsPunct(char) && run > 1 && (char != '.' || run > len(ellipsis)) {
			continue
		}

		builder.WriteRune(char)
	}

	return builder.String()
}
