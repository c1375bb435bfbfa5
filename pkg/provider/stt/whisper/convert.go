package whisper

import "math"

// minTokenProb keeps log() finite for tokens the model scored as impossible.
const minTokenProb = 1e-10

// avgLogProb returns the mean natural-log probability of probs. An empty
// slice yields 0, which callers treat as "no evidence".
func avgLogProb(probs []float32) float64 {
	if len(probs) == 0 {
		return 0
	}
	var sum float64
	for _, p := range probs {
		sum += math.Log(math.Max(float64(p), minTokenProb))
	}
	return sum / float64(len(probs))
}
