// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package guard

import (
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// invisible holds zero-width and other invisible characters that would
// otherwise split a forbidden substring.
var invisible = map[rune]struct{}{
	'\u200b': {}, // zero-width space
	'\u200c': {}, // zero-width non-joiner
	'\u200d': {}, // zero-width joiner
	'\ufeff': {}, // zero-width no-break space / BOM
	'\u00ad': {}, // soft hyphen
	'\u034f': {}, // combining grapheme joiner
	'\u061c': {}, // Arabic letter mark
	'\u180e': {}, // Mongolian vowel separator
	'\u2060': {}, // word joiner
	'\u2061': {}, // invisible function application
	'\u2062': {}, // invisible times
	'\u2063': {}, // invisible separator
	'\u2064': {}, // invisible plus
	'\u206a': {}, // inhibit symmetric swapping
	'\u206b': {}, // activate symmetric swapping
	'\u206c': {}, // inhibit Arabic form shaping
	'\u206d': {}, // activate Arabic form shaping
	'\u206e': {}, // national digit shapes
	'\u206f': {}, // nominal digit shapes
}

func isInvisible(r rune) bool {
	_, ok := invisible[r]
	return ok
}

// normalizer strips invisible characters and applies NFKC, so fullwidth and
// other compatibility forms compare equal to their ASCII counterparts. A
// transformer holds state; build one per use.
func normalizer() transform.Transformer {
	return transform.Chain(runes.Remove(runes.Predicate(isInvisible)), norm.NFKC)
}

func normalize(s string) string {
	out, _, err := transform.String(normalizer(), s)
	if err != nil {
		return s
	}
	return out
}
