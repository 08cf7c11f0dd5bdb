// Package slug turns display names into URL and key friendly identifiers.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Option configures slug generation.
type Option func(*config)

type config struct {
	maxLength int
	separator string
}

// MaxLength truncates the slug to n bytes, never leaving a trailing separator.
func MaxLength(n int) Option {
	return func(c *config) { c.maxLength = n }
}

// Separator replaces the default "-" separator.
func Separator(s string) Option {
	return func(c *config) {
		if s != "" {
			c.separator = s
		}
	}
}

// Make folds diacritics to ASCII, lower-cases, and joins alphanumeric runs with the separator.
// "Chef de Cuisine" -> "chef-de-cuisine", "Gérant" -> "gerant".
func Make(s string, opts ...Option) string {
	cfg := &config{separator: "-"}
	for _, opt := range opts {
		opt(cfg)
	}

	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteString(cfg.separator)
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	out := b.String()
	if cfg.maxLength > 0 && len(out) > cfg.maxLength {
		out = strings.TrimRight(out[:cfg.maxLength], cfg.separator)
	}
	return out
}
