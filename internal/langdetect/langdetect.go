// Package langdetect assigns an inbound message a supported locale (§4.5).
// Detection is a small stopword-frequency scorer over a fixed set of
// locales; it is never authoritative over an explicit operator override.
package langdetect

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Supported is the fixed, closed set of locales the rest of the pipeline
// (MessageFormatter greetings, AI disclaimer table) knows how to
// render. Anything outside this set is not a design gap; it is simply
// unsupported and falls back to English.
var Supported = []language.Tag{
	language.English,
	language.German,
	language.French,
	language.Spanish,
	language.Italian,
	language.Dutch,
}

// Fallback is returned when detection cannot confidently pick a supported
// locale, including on empty input.
var Fallback = language.English

// stopwords are drawn from each language's most frequent short function
// words, chosen to be cheap to tokenize-match and unlikely to collide
// across the supported set.
var stopwords = map[language.Tag]map[string]struct{}{
	language.English: set("the", "and", "you", "your", "please", "thanks", "order", "is", "was", "have", "we", "i"),
	language.German:  set("der", "die", "das", "und", "sie", "ich", "bitte", "danke", "haben", "ist", "wir", "nicht"),
	language.French:  set("le", "la", "les", "et", "vous", "je", "merci", "svp", "est", "nous", "avec", "pas"),
	language.Spanish: set("el", "la", "los", "las", "gracias", "por", "favor", "usted", "es", "somos", "con", "no"),
	language.Italian: set("il", "lo", "la", "gli", "grazie", "per", "favore", "lei", "sono", "non", "con", "che"),
	language.Dutch:   set("de", "het", "een", "dank", "alstublieft", "u", "is", "niet", "met", "wij", "bent", "voor"),
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// Detect scores text against each supported locale's stopword set and
// returns the best match. Ties and no-signal input fall back to Fallback.
func Detect(text string) language.Tag {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Fallback
	}

	scores := make(map[language.Tag]int, len(Supported))
	for _, tok := range tokens {
		for _, tag := range Supported {
			if _, hit := stopwords[tag][tok]; hit {
				scores[tag]++
			}
		}
	}

	best := Fallback
	bestScore := 0
	tied := false
	for _, tag := range Supported {
		switch s := scores[tag]; {
		case s > bestScore:
			best, bestScore, tied = tag, s, false
		case s == bestScore && s > 0:
			tied = true
		}
	}
	if tied {
		return Fallback
	}
	return best
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// Resolve applies a per-participant language override ahead of detection:
// overrides always win (SPEC_FULL §4.5), detection only fills the gap.
func Resolve(overrides map[string]string, participant, text string) language.Tag {
	if lang, ok := overrides[participant]; ok && lang != "" {
		if tag, err := language.Parse(lang); err == nil {
			return tag
		}
	}
	return Detect(text)
}
