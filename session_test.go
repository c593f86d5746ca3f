package pcienpu

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(t *testing.T, w Window, cfg SessionConfig) *Session {
	t.Helper()

	s, err := NewSessionWithWindow("test", w, cfg)
	require.NoError(t, err)

	return s
}

func TestLoadModelTenBytes(t *testing.T) {

	w := newRecordingWindow(WindowRegisters)
	s := newTestSession(t, w, DefaultSessionConfig())

	model := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a}
	require.NoError(t, s.LoadModel(context.Background(), model))

	assert.Equal(t, []regWrite{
		{RegOpcode, 0x01},
		{RegAddress, 0},
		{RegImmediate, 0},
		{RegLength, 3},
		{4, 0x04030201},
		{5, 0x08070605},
		{6, 0x00000a09},
	}, w.writes)
}

func TestLoadInput(t *testing.T) {

	w := newRecordingWindow(WindowRegisters)
	s := newTestSession(t, w, DefaultSessionConfig())

	require.NoError(t, s.LoadInput(context.Background(), []float32{1, 0.5}))

	assert.Equal(t, []regWrite{
		{RegOpcode, 0x02},
		{RegAddress, DefaultInputAddress},
		{RegImmediate, 0},
		{RegLength, 2},
		{4, math.Float32bits(1)},
		{5, math.Float32bits(0.5)},
	}, w.writes)
}

func TestRunInference(t *testing.T) {

	w := newRecordingWindow(WindowRegisters)
	s := newTestSession(t, w, DefaultSessionConfig())

	require.NoError(t, s.RunInference(context.Background()))

	assert.Equal(t, []regWrite{
		{RegOpcode, 0x03},
		{RegAddress, 0},
		{RegImmediate, 0},
		{RegLength, 0},
	}, w.writes)
}

func TestGetResult(t *testing.T) {

	w := newRecordingWindow(WindowRegisters)

	for i, f := range []float32{1, 2, 3, 4} {
		require.NoError(t, w.MemWindow.Write32(RegPayload+i, math.Float32bits(f)))
	}

	s := newTestSession(t, w, DefaultSessionConfig())

	out, err := s.GetResult(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, out)

	assert.Equal(t, []regWrite{
		{RegOpcode, 0x04},
		{RegAddress, 0},
		{RegImmediate, 0},
		{RegLength, 4},
	}, w.writes)
}

func TestGetResultNegativeSize(t *testing.T) {

	w := newRecordingWindow(WindowRegisters)
	s := newTestSession(t, w, DefaultSessionConfig())

	out, err := s.GetResult(context.Background(), -1)
	assert.Nil(t, out)
	assert.True(t, errors.Is(err, ErrBufferTooLarge))
	assert.Empty(t, w.writes)

	// the loop reports it as a failed retrieve
	loop := NewLoop(s, &fakeSource{frames: [][]float32{{1}}},
		ConsumerFunc(func([]float32, time.Duration) {}), -1, DefaultLoopConfig())

	err = loop.Cycle(context.Background())
	assert.True(t, errors.Is(err, ErrBufferTooLarge))
	assert.Contains(t, err.Error(), "during Retrieving")
	assert.Equal(t, StateCapturing, loop.State())
}

func TestOversizedPayloadWritesNothing(t *testing.T) {

	w := newRecordingWindow(WindowRegisters)
	s := newTestSession(t, w, DefaultSessionConfig())
	ctx := context.Background()

	err := s.LoadModel(ctx, make([]byte, s.MaxPayloadBytes()+1))
	assert.True(t, errors.Is(err, ErrBufferTooLarge))

	err = s.LoadInput(ctx, make([]float32, WindowRegisters))
	assert.True(t, errors.Is(err, ErrBufferTooLarge))

	_, err = s.GetResult(ctx, WindowRegisters)
	assert.True(t, errors.Is(err, ErrBufferTooLarge))

	assert.Empty(t, w.writes)

	// largest payload that fits
	require.NoError(t, s.LoadModel(ctx, make([]byte, s.MaxPayloadBytes())))
}

func TestChunkedTransfer(t *testing.T) {

	w := newRecordingWindow(12)
	cfg := DefaultSessionConfig()
	cfg.Chunked = true
	s := newTestSession(t, w, cfg)

	input := make([]float32, 20)

	for i := range input {
		input[i] = float32(i)
	}

	require.NoError(t, s.LoadInput(context.Background(), input))

	// 8 payload registers per command, 20 words in three chunks
	var headers [][4]uint32

	for i := 0; i < len(w.writes); {
		hdr := [4]uint32{}

		for j := 0; j < 4; j++ {
			require.Equal(t, j, w.writes[i+j].idx)
			hdr[j] = w.writes[i+j].val
		}

		headers = append(headers, hdr)
		i += 4 + int(hdr[RegLength])
	}

	assert.Equal(t, [][4]uint32{
		{0x02, DefaultInputAddress, 20, 8},
		{0x02, DefaultInputAddress + 32, 20, 8},
		{0x02, DefaultInputAddress + 64, 20, 4},
	}, headers)

	// last chunk payload
	last := w.writes[len(w.writes)-4:]
	for i, wr := range last {
		assert.Equal(t, RegPayload+i, wr.idx)
		assert.Equal(t, math.Float32bits(float32(16+i)), wr.val)
	}
}

func TestChunkedGetResult(t *testing.T) {

	w := newRecordingWindow(8)
	cfg := DefaultSessionConfig()
	cfg.Chunked = true
	s := newTestSession(t, w, cfg)

	for i := 0; i < 4; i++ {
		require.NoError(t, w.MemWindow.Write32(RegPayload+i, math.Float32bits(7)))
	}

	out, err := s.GetResult(context.Background(), 6)
	require.NoError(t, err)
	assert.Len(t, out, 6)

	// two requests, second for the remaining two words at byte offset 16
	require.Len(t, w.writes, 8)
	assert.Equal(t, uint32(4), w.writes[3].val)
	assert.Equal(t, uint32(16), w.writes[5].val)
	assert.Equal(t, uint32(6), w.writes[6].val)
	assert.Equal(t, uint32(2), w.writes[7].val)
}

func TestSessionCloseIdempotent(t *testing.T) {

	w := newRecordingWindow(WindowRegisters)
	s := newTestSession(t, w, DefaultSessionConfig())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, w.closes)

	err := s.RunInference(context.Background())
	assert.True(t, errors.Is(err, ErrSessionClosed))

	_, err = s.GetResult(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrSessionClosed))
}

func TestNewSessionDevice(t *testing.T) {

	path := pageFile(t)

	s, err := NewSession(path, DefaultSessionConfig())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.LoadModel(ctx, []byte("TFL3")))
	require.NoError(t, s.RunInference(ctx))

	var buf bytes.Buffer
	require.NoError(t, s.Query(&buf))
	assert.Contains(t, buf.String(), path)
	assert.Contains(t, buf.String(), "payload capacity 1020 words")

	assert.Equal(t, TransferStats{Commands: 2, WordsSent: 1}, s.Stats())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Error(t, s.Query(&buf))

	_, err = NewSession(path+".missing", DefaultSessionConfig())
	assert.True(t, errors.Is(err, ErrDeviceUnavailable))
}
