// Package transcript post-processes recognized speech before it reaches the
// turn-taking core.
//
// [Vocabulary] snaps phrases that sound like a known term (product names,
// people, jargon the recognizer keeps mangling) onto the term's spelling. A
// window of words is compared with a term on their concatenated form:
//
//  1. Phonetic: the Double Metaphone codes of both sides share a code and
//     their Jaro-Winkler similarity reaches the phonetic threshold.
//  2. Spelling: otherwise the Jaro-Winkler similarity alone must reach the
//     higher fuzzy threshold.
//
// Windows span as many words as the term, or one more, since recognizers
// often split an unfamiliar word in two ("elder nacks" for "Eldrinax").
package transcript

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.92

	// minPhraseLen skips windows too short to compare meaningfully.
	minPhraseLen = 4
)

// Option configures a [Vocabulary].
type Option func(*Vocabulary)

// WithPhoneticThreshold sets the similarity required when the phonetic codes
// agree. Default: 0.70.
func WithPhoneticThreshold(v float64) Option {
	return func(voc *Vocabulary) { voc.phonetic = v }
}

// WithFuzzyThreshold sets the similarity required without phonetic
// agreement. Default: 0.92.
func WithFuzzyThreshold(v float64) Option {
	return func(voc *Vocabulary) { voc.fuzzy = v }
}

type term struct {
	text   string
	words  int
	folded string
	codes  [2]string
}

// Vocabulary corrects transcripts against a fixed list of terms. It is
// read-only after construction and safe for concurrent use.
type Vocabulary struct {
	terms    []term
	maxWords int
	phonetic float64
	fuzzy    float64
}

// NewVocabulary builds a corrector for terms. Blank terms are ignored.
func NewVocabulary(terms []string, opts ...Option) *Vocabulary {
	v := &Vocabulary{
		phonetic: defaultPhoneticThreshold,
		fuzzy:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(v)
	}
	for _, t := range terms {
		words := strings.Fields(t)
		if len(words) == 0 {
			continue
		}
		folded := fold(words)
		p, s := matchr.DoubleMetaphone(folded)
		v.terms = append(v.terms, term{
			text:   strings.Join(words, " "),
			words:  len(words),
			folded: folded,
			codes:  [2]string{p, s},
		})
		v.maxWords = max(v.maxWords, len(words)+1)
	}
	return v
}

// Len reports the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// Correct returns text with every recognized term spelled as configured.
// Text without a match is returned unchanged.
func (v *Vocabulary) Correct(text string) string {
	if len(v.terms) == 0 {
		return text
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text
	}

	out := make([]string, 0, len(tokens))
	changed := false
	for i := 0; i < len(tokens); {
		replacement, n := v.matchAt(tokens[i:])
		if n == 0 {
			out = append(out, tokens[i])
			i++
			continue
		}
		window := strings.Join(tokens[i:i+n], " ")
		replacement += trailingPunct(tokens[i+n-1])
		if replacement != window {
			changed = true
		}
		out = append(out, replacement)
		i += n
	}
	if !changed {
		return text
	}
	return strings.Join(out, " ")
}

// matchAt finds the best term for a window starting at tokens[0] and returns
// it with the number of tokens it replaces. Longer windows win ties.
func (v *Vocabulary) matchAt(tokens []string) (string, int) {
	var (
		best      string
		bestN     int
		bestScore float64
	)
	for n := min(v.maxWords, len(tokens)); n >= 1; n-- {
		phrase := fold(tokens[:n])
		if len([]rune(phrase)) < minPhraseLen {
			continue
		}
		p, s := matchr.DoubleMetaphone(phrase)
		for _, t := range v.terms {
			if n != t.words && n != t.words+1 {
				continue
			}
			score, ok := v.score(phrase, [2]string{p, s}, t)
			if ok && score > bestScore {
				best, bestN, bestScore = t.text, n, score
			}
		}
	}
	return best, bestN
}

func (v *Vocabulary) score(phrase string, codes [2]string, t term) (float64, bool) {
	jw := matchr.JaroWinkler(phrase, t.folded, false)
	if sharesCode(codes, t.codes) && jw >= v.phonetic {
		return jw, true
	}
	return jw, jw >= v.fuzzy
}

func sharesCode(a, b [2]string) bool {
	for _, x := range a {
		if x == "" {
			continue
		}
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

// fold lower-cases words, strips everything but letters and digits and
// joins them without spaces.
func fold(words []string) string {
	var b strings.Builder
	for _, w := range words {
		for _, r := range w {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(unicode.ToLower(r))
			}
		}
	}
	return b.String()
}

// trailingPunct returns the punctuation suffix of a token ("it?" -> "?").
func trailingPunct(tok string) string {
	end := len(tok)
	for end > 0 {
		r := rune(tok[end-1])
		if r >= 0x80 || unicode.IsLetter(r) || unicode.IsDigit(r) {
			break
		}
		end--
	}
	return tok[end:]
}
