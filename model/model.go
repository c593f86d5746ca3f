package model

import (
	"bytes"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// tfliteIdentifier is the flatbuffer file identifier of TFLite models, found
// at byte offset 4
var tfliteIdentifier = []byte("TFL3")

// Model is a compiled model file and the shape of its output tensor
type Model struct {
	// Path is the file the model was read from
	Path string
	// Data is the raw model file contents uploaded to the accelerator
	Data []byte
	// Output is the shape of the model's output tensor
	Output Shape
}

// Load reads the compiled model file at path.  The output shape is read from
// the model's first output tensor, a non empty override replaces it, which
// models without the TFLite file identifier require
func Load(path string, override Shape) (*Model, error) {

	// check file exists before reading
	info, err := os.Stat(path)

	if err != nil {
		return nil, errors.Wrapf(err, "model file does not exist at %s", path)
	}

	if info.IsDir() {
		return nil, errors.Errorf("model file %s is a directory", path)
	}

	if len(override) > 0 && override.Elements() <= 0 {
		return nil, errors.Errorf("invalid output shape %s", override)
	}

	data, err := os.ReadFile(path)

	if err != nil {
		return nil, errors.Wrapf(err, "error reading model file %s", path)
	}

	if len(data) == 0 {
		return nil, errors.Errorf("model file %s is empty", path)
	}

	m := &Model{
		Path:   path,
		Data:   data,
		Output: override,
	}

	if len(override) == 0 {
		m.Output, err = OutputShape(data)

		if err != nil {
			return nil, errors.WithMessagef(err, "no output shape given for %s", path)
		}

	} else if !m.IsTFLite() {
		klog.Warningf("%s has no TFLite file identifier, uploading as is", path)
	}

	klog.V(1).Infof("read model %s, %s, output %s", path,
		humanize.Bytes(uint64(len(data))), m.Output)

	return m, nil
}

// IsTFLite reports if the model data carries the TFLite file identifier
func (m *Model) IsTFLite() bool {
	return len(m.Data) >= 8 && bytes.Equal(m.Data[4:8], tfliteIdentifier)
}

// OutputSize returns the number of elements in the output tensor
func (m *Model) OutputSize() int {
	return m.Output.Elements()
}
