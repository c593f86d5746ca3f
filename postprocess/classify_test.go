package postprocess

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopN(t *testing.T) {

	tests := []struct {
		name   string
		output []float32
		n      int
		want   []int
	}{
		{"ordered", []float32{0.1, 0.5, 0.2, 0.9, 0.05}, 3, []int{3, 1, 2}},
		{"fewer than n", []float32{0.3, 0.7}, 5, []int{1, 0}},
		{"skips zero scores", []float32{0, 0.4, 0, 0}, 3, []int{1}},
		{"empty", nil, 5, nil},
		{"zero n", []float32{1, 2}, 0, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			top := TopN(tc.output, tc.n)
			require.Len(t, top, len(tc.want))

			for i, idx := range tc.want {
				assert.Equal(t, idx, top[i].LabelIndex)
				assert.Equal(t, tc.output[idx], top[i].Probability)
			}
		})
	}
}

func TestSoftmax(t *testing.T) {

	probs := Softmax([]float32{1, 2, 3, 1000})
	require.Len(t, probs, 4)

	var sum float32

	for _, p := range probs {
		assert.False(t, p < 0)
		sum += p
	}

	assert.InDelta(t, 1.0, sum, 1e-5)
	assert.InDelta(t, 1.0, probs[3], 1e-5)

	equal := Softmax([]float32{5, 5})
	assert.InDelta(t, 0.5, equal[0], 1e-6)
	assert.Nil(t, Softmax(nil))
}

func TestSummary(t *testing.T) {

	var buf bytes.Buffer
	Summary(&buf, []float32{1, 2.5, 3, 4}, 3)
	assert.Equal(t, "Inference result: 1 2.5 3\n", buf.String())

	buf.Reset()
	Summary(&buf, []float32{1}, 10)
	assert.Equal(t, "Inference result: 1\n", buf.String())
}

func TestReporter(t *testing.T) {

	var buf bytes.Buffer

	r := &Reporter{
		W:      &buf,
		Labels: []string{"cat", "dog", "bird"},
		Top:    2,
	}

	r.Consume([]float32{0.2, 0.7, 0.1}, 12*time.Millisecond)

	assert.Equal(t, "Inference completed in 12 ms\n"+
		"  1: 0.700000 dog\n"+
		"  0: 0.200000 cat\n", buf.String())
}
