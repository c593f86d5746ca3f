package model

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestParseShape(t *testing.T) {

	tests := []struct {
		in       string
		want     Shape
		elements int
		wantErr  bool
	}{
		{in: "1,1001", want: Shape{1, 1001}, elements: 1001},
		{in: "1x224x224x3", want: Shape{1, 224, 224, 3}, elements: 150528},
		{in: " 4 , 2 ", want: Shape{4, 2}, elements: 8},
		{in: "10", want: Shape{10}, elements: 10},
		{in: "", wantErr: true},
		{in: "1,a", wantErr: true},
		{in: "1,0", wantErr: true},
		{in: "2,-3", wantErr: true},
	}

	for _, tc := range tests {
		shape, err := ParseShape(tc.in)

		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}

		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, shape)
		assert.Equal(t, tc.elements, shape.Elements())
	}

	assert.Equal(t, 0, Shape(nil).Elements())
	assert.Equal(t, 0, Shape{4, 0}.Elements())
	assert.Equal(t, 0, Shape{math.MaxInt / 2, 3}.Elements())
	assert.Equal(t, "[1, 1001]", Shape{1, 1001}.String())
}

func TestLoad(t *testing.T) {

	data := []byte{0x1c, 0, 0, 0, 'T', 'F', 'L', '3', 0x00, 0x01}
	path := writeFile(t, "model.tflite", data)

	m, err := Load(path, Shape{1, 10})
	require.NoError(t, err)

	assert.Equal(t, data, m.Data)
	assert.Equal(t, 10, m.OutputSize())
	assert.True(t, m.IsTFLite())

	// files without the identifier still load
	raw, err := Load(writeFile(t, "model.bin", []byte{1, 2, 3}), Shape{4})
	require.NoError(t, err)
	assert.False(t, raw.IsTFLite())
}

func TestLoadErrors(t *testing.T) {

	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.tflite"), Shape{1})
	assert.Error(t, err)

	_, err = Load(dir, Shape{1})
	assert.Error(t, err)

	_, err = Load(writeFile(t, "empty.tflite", nil), Shape{1})
	assert.Error(t, err)

	_, err = Load(writeFile(t, "ok.tflite", []byte{1}), nil)
	assert.Error(t, err)
}

func TestLoadLabels(t *testing.T) {

	path := writeFile(t, "labels.txt", []byte("background\n cat \n\ndog\n\n\n"))

	labels, err := LoadLabels(path)
	require.NoError(t, err)

	assert.Equal(t, Labels{"background", "cat", "", "dog"}, labels)

	_, err = LoadLabels(writeFile(t, "blank.txt", []byte("\n\n")))
	assert.Error(t, err)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
