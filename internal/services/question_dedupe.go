package services

import (
	"strings"
	"unicode"
)

// The generator occasionally re-asks a question it already asked, paraphrased.
// Dedup is a lexical screen: normalize both questions to token sets and
// compare overlap. Deterministic, no provider calls.

var questionStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "any": {}, "are": {}, "be": {}, "been": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "had": {}, "has": {},
	"have": {}, "how": {}, "in": {}, "is": {}, "it": {}, "of": {}, "on": {},
	"or": {}, "the": {}, "this": {}, "to": {}, "was": {}, "were": {},
	"what": {}, "when": {}, "with": {}, "you": {}, "your": {},
}

func normalizeQuestionTokens(q string) map[string]struct{} {
	out := map[string]struct{}{}
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if _, stop := questionStopwords[tok]; stop {
			return
		}
		out[tok] = struct{}{}
	}
	for _, r := range strings.ToLower(q) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return out
}

// questionSimilarity returns Jaccard overlap of the normalized token sets,
// in [0,1].
func questionSimilarity(a, b string) float64 {
	ta := normalizeQuestionTokens(a)
	tb := normalizeQuestionTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// isDuplicateQuestion reports whether candidate is too similar to any prior
// question, at or above threshold.
func isDuplicateQuestion(candidate string, priorQuestions []string, threshold float64) bool {
	for _, prior := range priorQuestions {
		if questionSimilarity(candidate, prior) >= threshold {
			return true
		}
	}
	return false
}
