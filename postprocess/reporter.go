package postprocess

import (
	"fmt"
	"io"
	"time"
)

// Reporter writes each inference result to W.  With no Labels it prints the
// first Values raw outputs, otherwise the Top best matching labels
type Reporter struct {
	W io.Writer
	// Labels are the class names of the model outputs
	Labels []string
	// Top is the number of classes reported when Labels are set
	Top int
	// Values is the number of raw outputs printed when Labels are not set
	Values int
	// Softmax converts outputs from logits before ranking
	Softmax bool
}

// Consume reports one output tensor and the time it took to produce
func (r *Reporter) Consume(output []float32, elapsed time.Duration) {

	fmt.Fprintf(r.W, "Inference completed in %d ms\n", elapsed.Milliseconds())

	if len(r.Labels) == 0 {
		Summary(r.W, output, r.Values)
		return
	}

	if r.Softmax {
		output = Softmax(output)
	}

	for _, p := range TopN(output, r.Top) {
		fmt.Fprintf(r.W, "%3d: %8.6f %s\n", p.LabelIndex, p.Probability, r.label(p.LabelIndex))
	}
}

func (r *Reporter) label(idx int) string {
	if idx < len(r.Labels) {
		return r.Labels[idx]
	}
	return ""
}
