// Package moderation censors forbidden words in chatroom message bodies
// before they are recorded and fanned out.
package moderation

import (
	"log/slog"
	"unicode"

	"github.com/abadojack/whatlanggo"
	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator matches forbidden patterns with an Aho-Corasick automaton built
// once at startup. Matching runs against a normalized view of the text
// (lowercased, leet-speak folded, punctuation stripped) while replacement
// happens on the original runes, so spacing and casing survive.
type Moderator struct {
	matcher     *goahocorasick.Machine
	replacement rune
	log         *slog.Logger
}

// textMapping ties each normalized rune back to its original index.
type textMapping struct {
	normalized []rune
	origIdx    []int
}

func NewModerator(words []string, replacement rune, log *slog.Logger) (*Moderator, error) {
	patterns := make([][]rune, 0, len(words))
	for _, word := range words {
		normalized := normalizeRunes([]rune(word))
		if len(normalized) == 0 {
			continue
		}
		patterns = append(patterns, normalized)
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{matcher: m, replacement: replacement, log: log}, nil
}

// Censor replaces every matched span with the replacement rune and returns
// the censored text plus the normalized words that were found. It also logs
// the detected language of offending content, which helps when tuning the
// per-language dictionaries.
func (m *Moderator) Censor(original string) (string, []string) {
	mapping := normalize(original)
	if len(mapping.normalized) == 0 {
		return original, nil
	}

	spans := m.matcher.MultiPatternSearch(mapping.normalized, false)
	if len(spans) == 0 {
		return original, nil
	}

	origRunes := []rune(original)
	var found []string
	for _, span := range spans {
		normStart := span.Pos
		normEnd := normStart + len(span.Word)
		if normStart < 0 || normEnd > len(mapping.origIdx) {
			continue
		}

		origStart := mapping.origIdx[normStart]
		origEnd := mapping.origIdx[normEnd-1] + 1
		for i := origStart; i < origEnd; i++ {
			origRunes[i] = m.replacement
		}
		found = append(found, string(span.Word))
	}

	if len(found) > 0 {
		info := whatlanggo.Detect(original)
		m.log.Debug("message censored",
			"words", len(found),
			"lang", info.Lang.Iso6391())
	}
	return string(origRunes), found
}

// normalize builds the searchable view of input and tracks original
// positions of every rune that survives noise removal.
func normalize(input string) textMapping {
	origRunes := []rune(input)
	norm := make([]rune, 0, len(origRunes))
	origIdx := make([]int, 0, len(origRunes))

	for i, r := range origRunes {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		norm = append(norm, unicode.ToLower(clean))
		origIdx = append(origIdx, i)
	}
	return textMapping{normalized: norm, origIdx: origIdx}
}

func normalizeRunes(input []rune) []rune {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		clean := simplifyRune(r)
		if isNoise(clean) {
			continue
		}
		out = append(out, unicode.ToLower(clean))
	}
	return out
}

// simplifyRune maps common leet-speak characters back to their standard
// alphabet counterparts.
func simplifyRune(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}

// isNoise identifies characters ignored during the matching phase.
func isNoise(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r)
}
