package transcribe

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Deduper suppresses text that repeats the previous accepted text of the
// same source, which happens when overlapping windows cover the same words.
type Deduper struct {
	last string
}

// Duplicate reports whether text is at least threshold similar to the last
// text passed to Remember. A threshold of 0 disables the check.
func (d *Deduper) Duplicate(text string, threshold float64) bool {
	if threshold <= 0 || d.last == "" {
		return false
	}
	return matchr.JaroWinkler(strings.ToLower(text), d.last, false) >= threshold
}

// Remember records text as the last emitted text.
func (d *Deduper) Remember(text string) {
	d.last = strings.ToLower(text)
}

// Forget clears the remembered text.
func (d *Deduper) Forget() { d.last = "" }
