package transcribe

import (
	"strings"
	"unicode"
)

// FilterSettings tune the [Filter].
type FilterSettings struct {
	// DetectRepetitions enables the word-repetition collapse and the
	// hallucination suppression.
	DetectRepetitions bool
	MaxRepetitions    int

	// HallucinationPatterns are filler tokens. Matching ignores case and
	// surrounding punctuation, so "¿eh?" and "eh" name the same token.
	HallucinationPatterns []string

	// FilterShortPhrases drops filler words outright and rejects texts that
	// are nothing but a filler token.
	FilterShortPhrases bool
	MinTextLength      int

	ConfidenceThreshold float64
}

// FilterResult is the verdict of the [Filter] on one engine result.
type FilterResult struct {
	Text     string
	Accepted bool

	// Reason is set when Accepted is false.
	Reason string

	// Threshold is the confidence threshold that was applied.
	Threshold float64
}

// Filter cleans raw engine text in a fixed order: repetition collapse,
// hallucination suppression, filler removal, triviality check and
// confidence gate. The zero Filter is ready to use.
type Filter struct{}

// Apply runs every step on raw with the given confidence.
func (Filter) Apply(raw string, confidence float64, cfg FilterSettings) FilterResult {
	patterns := normalizePatterns(cfg.HallucinationPatterns)
	words := strings.Fields(raw)

	if cfg.DetectRepetitions {
		rawCounts := countTokens(words, patterns)
		words = CollapseRepetitions(words, cfg.MaxRepetitions)
		for tok, n := range rawCounts {
			if n > cfg.MaxRepetitions {
				words = keepFirst(words, tok)
			}
		}
	}

	if cfg.FilterShortPhrases {
		kept := words[:0:0]
		for _, w := range words {
			if _, filler := patterns[normalizeToken(w)]; !filler {
				kept = append(kept, w)
			}
		}
		words = kept
	}

	text := strings.Join(words, " ")

	if cfg.FilterShortPhrases && len(words) < cfg.MinTextLength {
		if _, filler := patterns[normalizeToken(text)]; filler {
			return FilterResult{Text: text, Reason: ReasonTrivial}
		}
	}
	if text == "" {
		return FilterResult{Reason: ReasonNoText}
	}

	threshold := AdjustedThreshold(cfg.ConfidenceThreshold, len(words))
	if confidence < threshold {
		return FilterResult{Text: text, Reason: ReasonLowConfidence, Threshold: threshold}
	}
	return FilterResult{Text: text, Accepted: true, Threshold: threshold}
}

// AdjustedThreshold lowers threshold by 20% for texts of two words or less.
func AdjustedThreshold(threshold float64, words int) float64 {
	if words <= 2 {
		return threshold * 0.8
	}
	return threshold
}

// CollapseRepetitions keeps at most limit consecutive identical words.
// Applying it twice gives the same result as applying it once.
func CollapseRepetitions(words []string, limit int) []string {
	limit = max(limit, 1)
	out := make([]string, 0, len(words))
	run := 0
	for i, w := range words {
		if i > 0 && w == words[i-1] {
			run++
		} else {
			run = 0
		}
		if run < limit {
			out = append(out, w)
		}
	}
	return out
}

func keepFirst(words []string, tok string) []string {
	out := words[:0:0]
	seen := false
	for _, w := range words {
		if normalizeToken(w) == tok {
			if seen {
				continue
			}
			seen = true
		}
		out = append(out, w)
	}
	return out
}

func countTokens(words []string, patterns map[string]struct{}) map[string]int {
	counts := make(map[string]int)
	for _, w := range words {
		tok := normalizeToken(w)
		if _, ok := patterns[tok]; ok {
			counts[tok]++
		}
	}
	return counts
}

func normalizePatterns(patterns []string) map[string]struct{} {
	set := make(map[string]struct{}, len(patterns))
	for _, p := range patterns {
		if tok := normalizeToken(p); tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	}))
}
