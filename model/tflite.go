package model

import (
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/pkg/errors"
)

// vtable offsets of the TFLite schema fields read here
const (
	modelSubgraphs   = 8
	subgraphTensors  = 4
	subgraphOutputs  = 8
	tensorShape      = 4
	offsetSize       = flatbuffers.SizeUOffsetT
	int32Size        = flatbuffers.SizeInt32
	minFlatbufferLen = 8
)

// OutputShape reads the shape of the first output tensor of the first
// subgraph from a TFLite flatbuffer
func OutputShape(data []byte) (shape Shape, err error) {

	if len(data) < minFlatbufferLen || string(data[4:8]) != string(tfliteIdentifier) {
		return nil, errors.New("not a TFLite flatbuffer")
	}

	// flatbuffers index the buffer directly and panic on corrupt offsets
	defer func() {
		if r := recover(); r != nil {
			shape = nil
			err = errors.Errorf("corrupt TFLite flatbuffer: %v", r)
		}
	}()

	root := &flatbuffers.Table{
		Bytes: data,
		Pos:   flatbuffers.GetUOffsetT(data),
	}

	subgraph, ok := tableAt(root, modelSubgraphs, 0)

	if !ok {
		return nil, errors.New("model has no subgraphs")
	}

	outputs, n := vectorAt(subgraph, subgraphOutputs)

	if n == 0 {
		return nil, errors.New("subgraph has no outputs")
	}

	index := int(subgraph.GetInt32(outputs))

	tensor, ok := tableAt(subgraph, subgraphTensors, index)

	if !ok {
		return nil, errors.Errorf("output tensor %d is not in the subgraph", index)
	}

	dims, n := vectorAt(tensor, tensorShape)

	if n == 0 {
		return nil, errors.Errorf("output tensor %d has no shape", index)
	}

	shape = make(Shape, n)

	for i := range shape {
		shape[i] = int(tensor.GetInt32(dims + flatbuffers.UOffsetT(i*int32Size)))
	}

	if shape.Elements() <= 0 {
		return nil, errors.Errorf("output tensor %d has unusable shape %s", index, shape)
	}

	return shape, nil
}

// vectorAt returns the start and length of the vector field at slot, a zero
// length when the field is absent
func vectorAt(t *flatbuffers.Table, slot flatbuffers.VOffsetT) (flatbuffers.UOffsetT, int) {

	o := flatbuffers.UOffsetT(t.Offset(slot))

	if o == 0 {
		return 0, 0
	}

	return t.Vector(o), t.VectorLen(o)
}

// tableAt returns element j of the vector of tables field at slot
func tableAt(t *flatbuffers.Table, slot flatbuffers.VOffsetT, j int) (*flatbuffers.Table, bool) {

	start, n := vectorAt(t, slot)

	if j < 0 || j >= n {
		return nil, false
	}

	return &flatbuffers.Table{
		Bytes: t.Bytes,
		Pos:   t.Indirect(start + flatbuffers.UOffsetT(j*offsetSize)),
	}, true
}
