package transcribe

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var sentenceBreak = regexp.MustCompile(`[.!?]+`)

// RollingContext is the recent transcript of one source, fed back to the
// engine as a prompt. It keeps at most Sentences earlier sentences plus the
// newest accepted text.
type RollingContext struct {
	Sentences int
	text      string
}

// NewRollingContext returns an empty context retaining n sentences.
func NewRollingContext(n int) *RollingContext {
	return &RollingContext{Sentences: n}
}

// Append adds an accepted transcription. Existing text is split on runs of
// '.', '!' and '?'; fragments of three characters or less are discarded
// and only the last Sentences of the rest survive.
func (c *RollingContext) Append(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	kept := lastSentences(c.text, c.Sentences)
	if len(kept) == 0 {
		c.text = text
		return
	}
	c.text = strings.Join(kept, ". ") + ". " + text
}

// Text returns the current context.
func (c *RollingContext) Text() string { return c.text }

// Reset clears the context.
func (c *RollingContext) Reset() { c.text = "" }

func lastSentences(text string, n int) []string {
	if n <= 0 || text == "" {
		return nil
	}
	var kept []string
	for _, s := range sentenceBreak.Split(text, -1) {
		if s = strings.TrimSpace(s); utf8.RuneCountInString(s) > 3 {
			kept = append(kept, s)
		}
	}
	if len(kept) > n {
		kept = kept[len(kept)-n:]
	}
	return kept
}
