package transcribe

import (
	"slices"
	"strings"
	"testing"
)

func filterCfg() FilterSettings {
	return DefaultSettings().Tunables.Filter
}

func TestFilter_CollapsesHallucinatedFiller(t *testing.T) {
	t.Parallel()
	got := Filter{}.Apply("eh eh eh eh eh hola", 1, filterCfg())
	if !got.Accepted {
		t.Fatalf("rejected: %+v", got)
	}
	if got.Text != "eh hola" {
		t.Fatalf("Text = %q, want %q", got.Text, "eh hola")
	}
}

func TestFilter_HallucinationAtMostOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		tok  string
		want int
	}{
		{"¿eh? hola ¿eh? qué tal ¿eh? bien ¿eh?", "eh", 1},
		{"Umm, vale umm sí umm umm claro", "umm", 1},
		{"mm mm mm", "mm", 3},
		{"oh oh oh oh oh oh oh", "oh", 1},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got := Filter{}.Apply(tt.raw, 1, filterCfg())
			n := 0
			for _, w := range strings.Fields(got.Text) {
				if normalizeToken(w) == tt.tok {
					n++
				}
			}
			if n != tt.want {
				t.Fatalf("%q -> %q has %d x %q, want %d", tt.raw, got.Text, n, tt.tok, tt.want)
			}
		})
	}
}

func TestFilter_RepetitionsAllowedUpToLimit(t *testing.T) {
	t.Parallel()
	got := Filter{}.Apply("no no no no no quiero", 1, filterCfg())
	if got.Text != "no no no quiero" {
		t.Fatalf("Text = %q", got.Text)
	}
}

func TestFilter_DetectRepetitionsOff(t *testing.T) {
	t.Parallel()
	cfg := filterCfg()
	cfg.DetectRepetitions = false
	raw := "eh eh eh eh eh hola"
	if got := (Filter{}).Apply(raw, 1, cfg); got.Text != raw {
		t.Fatalf("Text = %q, want unchanged", got.Text)
	}
}

func TestCollapseRepetitions_Idempotent(t *testing.T) {
	t.Parallel()
	inputs := []string{
		"a a a a a b b b b c",
		"hola hola hola hola",
		"uno dos tres",
		"",
		"x x y y y y x x x x x",
	}
	for _, limit := range []int{1, 2, 3, 5} {
		for _, in := range inputs {
			once := CollapseRepetitions(strings.Fields(in), limit)
			twice := CollapseRepetitions(once, limit)
			if !slices.Equal(once, twice) {
				t.Errorf("limit %d, %q: once %v, twice %v", limit, in, once, twice)
			}
		}
	}
}

func TestFilter_ShortPhrases(t *testing.T) {
	t.Parallel()
	cfg := filterCfg()
	cfg.FilterShortPhrases = true

	got := Filter{}.Apply("hmm bueno eh vale", 1, cfg)
	if got.Text != "bueno vale" || !got.Accepted {
		t.Fatalf("got %+v, want accepted %q", got, "bueno vale")
	}

	got = Filter{}.Apply("¿eh?", 1, cfg)
	if got.Accepted || got.Reason != ReasonNoText {
		t.Fatalf("filler-only text: got %+v", got)
	}
}

func TestFilter_TrivialText(t *testing.T) {
	t.Parallel()
	cfg := filterCfg()
	cfg.FilterShortPhrases = true
	cfg.MinTextLength = 3
	cfg.HallucinationPatterns = []string{"eh", "ok vale"}

	got := Filter{}.Apply("OK vale", 1, cfg)
	if got.Accepted || got.Reason != ReasonTrivial {
		t.Fatalf("got %+v, want trivial rejection", got)
	}
	if got := (Filter{}).Apply("ok vale gracias", 1, cfg); !got.Accepted {
		t.Fatalf("three words rejected: %+v", got)
	}
}

func TestFilter_ConfidenceBoundary(t *testing.T) {
	t.Parallel()
	cfg := filterCfg()
	cfg.ConfidenceThreshold = 0.5

	long := "esta frase tiene muchas palabras"
	if got := (Filter{}).Apply(long, 0.5, cfg); !got.Accepted {
		t.Errorf("confidence at threshold rejected: %+v", got)
	}
	if got := (Filter{}).Apply(long, 0.4999, cfg); got.Accepted || got.Reason != ReasonLowConfidence {
		t.Errorf("confidence below threshold accepted: %+v", got)
	}

	// Two words lower the bar to 0.4.
	if got := (Filter{}).Apply("hola amigo", 0.4, cfg); !got.Accepted {
		t.Errorf("short text at adjusted threshold rejected: %+v", got)
	}
	if got := (Filter{}).Apply("hola amigo", 0.39, cfg); got.Accepted {
		t.Errorf("short text below adjusted threshold accepted: %+v", got)
	}
}

func TestFilter_EmptyText(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   "} {
		if got := (Filter{}).Apply(raw, 1, filterCfg()); got.Accepted || got.Reason != ReasonNoText {
			t.Errorf("Apply(%q) = %+v", raw, got)
		}
	}
}

func TestAdjustedThreshold(t *testing.T) {
	t.Parallel()
	if got := AdjustedThreshold(0.5, 2); got != 0.4 {
		t.Errorf("2 words: %v", got)
	}
	if got := AdjustedThreshold(0.5, 3); got != 0.5 {
		t.Errorf("3 words: %v", got)
	}
}
