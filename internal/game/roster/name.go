package roster

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxNameBytes is the display name cap used when none is configured.
const DefaultMaxNameBytes = 32

// NormalizeName trims, NFC-normalises and truncates name to at most maxBytes bytes
// without splitting a rune. An empty result is replaced by fallback.
//
// Precondition: maxBytes should be > 0; values <= 0 use DefaultMaxNameBytes.
// Postcondition: len(result) <= maxBytes unless fallback itself is longer.
func NormalizeName(name string, maxBytes int, fallback string) string {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxNameBytes
	}
	name = norm.NFC.String(strings.TrimSpace(name))
	if len(name) > maxBytes {
		cut := maxBytes
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = strings.TrimSpace(name[:cut])
	}
	if name == "" {
		return fallback
	}
	return name
}
