package postprocess

import (
	"fmt"
	"io"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Probability is a class index and its score
type Probability struct {
	LabelIndex  int
	Probability float32
}

// minProbability is the score below which classes are not reported
const minProbability = 0.000001

// TopN returns the n highest scoring classes of output in descending order.
// Classes scoring below minProbability are left out, so fewer than n results
// may be returned
func TopN(output []float32, n int) []Probability {

	if n <= 0 || len(output) == 0 {
		return nil
	}

	vals := make([]float64, len(output))

	for i, v := range output {
		vals[i] = float64(v)
	}

	inds := make([]int, len(vals))
	floats.Argsort(vals, inds)

	// Argsort orders ascending
	top := make([]Probability, 0, min(n, len(vals)))

	for i := len(vals) - 1; i >= 0 && len(top) < n; i-- {

		if vals[i] <= minProbability || math.IsNaN(vals[i]) {
			break
		}

		top = append(top, Probability{
			LabelIndex:  inds[i],
			Probability: float32(vals[i]),
		})
	}

	return top
}

// Softmax converts logits to probabilities summing to one
func Softmax(logits []float32) []float32 {

	if len(logits) == 0 {
		return nil
	}

	vals := make([]float64, len(logits))

	for i, v := range logits {
		vals[i] = float64(v)
	}

	// shift by the max for numerical stability
	floats.AddConst(-floats.Max(vals), vals)

	for i, v := range vals {
		vals[i] = math.Exp(v)
	}

	floats.Scale(1/floats.Sum(vals), vals)

	probs := make([]float32, len(vals))

	for i, v := range vals {
		probs[i] = float32(v)
	}

	return probs
}

// Summary writes the first k values of output on one line
func Summary(w io.Writer, output []float32, k int) {

	k = max(0, min(k, len(output)))
	vals := make([]string, k)

	for i := 0; i < k; i++ {
		vals[i] = fmt.Sprintf("%g", output[i])
	}

	fmt.Fprintf(w, "Inference result: %s\n", strings.Join(vals, " "))
}
