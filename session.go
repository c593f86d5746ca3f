package pcienpu

import (
	"context"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// SessionConfig holds the tunables of a Session
type SessionConfig struct {
	// InputAddress is the accelerator offset input tensors are loaded to
	InputAddress uint32
	// Progress is called as bulk payloads are written, may be nil
	Progress ProgressFunc
	// Chunked splits payloads larger than the window into several commands of
	// the same opcode.  Each chunk's header carries the chunk's target byte
	// address and the word count of the whole transfer as immediate data.
	// When false a payload larger than the window fails with ErrBufferTooLarge
	Chunked bool
}

// DefaultSessionConfig returns the configuration matching the accelerator's
// default memory map
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		InputAddress: DefaultInputAddress,
	}
}

// Session is the host side of the accelerator control protocol.  It owns the
// register window from construction until Close
type Session struct {
	// name identifies the window, the device path for hardware sessions
	name string
	win  Window
	ch   *Channel
	cfg  SessionConfig
	// closed is set once Close has released the window
	closed bool
	close  sync.Once
	// closeErr is the result of releasing the window
	closeErr error
}

// NewSession opens and maps the accelerator device node at devicePath.  A
// failure to open or map is terminal and no Session is returned
func NewSession(devicePath string, cfg SessionConfig) (*Session, error) {

	// refuse to run before touching the device
	if !hostLittleEndian() {
		return nil, ErrByteOrder
	}

	win, err := OpenDevice(devicePath)

	if err != nil {
		return nil, err
	}

	return newSession(devicePath, win, cfg), nil
}

// NewSessionWithWindow returns a Session over an already open Window, the
// Session takes ownership and closes it on Close
func NewSessionWithWindow(name string, win Window, cfg SessionConfig) (*Session, error) {

	if !hostLittleEndian() {
		win.Close()
		return nil, ErrByteOrder
	}

	return newSession(name, win, cfg), nil
}

func newSession(name string, win Window, cfg SessionConfig) *Session {

	s := &Session{
		name: name,
		win:  win,
		ch:   NewChannel(win),
		cfg:  cfg,
	}

	s.ch.SetProgress(cfg.Progress)

	klog.V(1).Infof("session on %s, window %d registers, max payload %s",
		name, win.Capacity(), humanize.Bytes(uint64(s.MaxPayloadBytes())))

	return s
}

// Name returns the device path or name the Session was created with
func (s *Session) Name() string {
	return s.name
}

// SetProgress replaces the bulk transfer progress callback, pass nil to
// disable
func (s *Session) SetProgress(fn ProgressFunc) {
	s.cfg.Progress = fn
	s.ch.SetProgress(fn)
}

// MaxPayloadBytes returns the largest payload in bytes one operation can move
func (s *Session) MaxPayloadBytes() int {
	return s.ch.MaxPayloadWords() * WordSize
}

// Stats returns the register traffic totals of the Session
func (s *Session) Stats() TransferStats {
	return s.ch.Stats()
}

// LoadModel packs the compiled model into words and uploads it
func (s *Session) LoadModel(ctx context.Context, model []byte) error {

	words := PackBytes(model)

	err := s.exchange(ctx, CommandHeader{
		Opcode: OpLoadModel,
		Length: uint32(len(words)),
	}, words)

	if err != nil {
		return errors.WithMessagef(err, "loading model of %s", humanize.Bytes(uint64(len(model))))
	}

	klog.V(2).Infof("uploaded model of %s as %d words",
		humanize.Bytes(uint64(len(model))), len(words))

	return nil
}

// LoadInput uploads an input tensor to the input region of the accelerator
func (s *Session) LoadInput(ctx context.Context, input []float32) error {

	words := PackFloats(input)

	err := s.exchange(ctx, CommandHeader{
		Opcode:  OpLoadInput,
		Address: s.cfg.InputAddress,
		Length:  uint32(len(words)),
	}, words)

	if err != nil {
		return errors.WithMessagef(err, "loading input tensor of %d elements", len(input))
	}

	return nil
}

// RunInference triggers execution of the loaded model on the loaded input.  It
// returns as soon as the command is written, there is no completion wait
func (s *Session) RunInference(ctx context.Context) error {

	err := s.exchange(ctx, CommandHeader{Opcode: OpRunInference}, nil)

	if err != nil {
		return errors.WithMessage(err, "running inference")
	}

	return nil
}

// GetResult requests outputSize words of output and returns them as floats
func (s *Session) GetResult(ctx context.Context, outputSize int) ([]float32, error) {

	if err := s.usable(); err != nil {
		return nil, err
	}

	if outputSize < 0 {
		return nil, errors.Wrapf(ErrBufferTooLarge, "getting result of %d words", outputSize)
	}

	words := make([]uint32, 0, outputSize)

	for _, c := range s.chunks(outputSize) {

		if err := s.ch.CheckPayload(c.words); err != nil {
			return nil, errors.WithMessage(err, "getting result")
		}

		err := s.ch.SendCommand(ctx, CommandHeader{
			Opcode:    OpGetResult,
			Address:   c.address(0),
			Immediate: c.immediate(outputSize),
			Length:    uint32(c.words),
		})

		if err != nil {
			return nil, errors.WithMessage(err, "getting result")
		}

		part, err := s.ch.ReceiveData(ctx, c.words)

		if err != nil {
			return nil, errors.WithMessage(err, "getting result")
		}

		words = append(words, part...)
	}

	return UnpackFloats(words), nil
}

// chunk is one command's share of a bulk transfer
type chunk struct {
	// offset is the index of the chunk's first word in the whole transfer
	offset int
	words  int
	// split is set when the transfer was divided into several chunks
	split bool
}

// address returns the target address of the chunk relative to base
func (c chunk) address(base uint32) uint32 {
	return base + uint32(c.offset*WordSize)
}

// immediate returns the immediate data of the chunk's header
func (c chunk) immediate(total int) uint32 {
	if !c.split {
		return 0
	}
	return uint32(total)
}

// chunks divides a transfer of n words.  Unless chunking is enabled and n
// exceeds the window the transfer is a single chunk, which may still fail the
// capacity check
func (s *Session) chunks(n int) []chunk {

	limit := s.ch.MaxPayloadWords()

	if !s.cfg.Chunked || n <= limit || limit <= 0 {
		return []chunk{{offset: 0, words: n}}
	}

	list := make([]chunk, 0, (n+limit-1)/limit)

	for off := 0; off < n; off += limit {
		list = append(list, chunk{
			offset: off,
			words:  min(limit, n-off),
			split:  true,
		})
	}

	return list
}

// exchange writes the header followed by the payload for each chunk of the
// transfer.  The payload size is checked first so a header is never emitted
// for a transfer that cannot complete
func (s *Session) exchange(ctx context.Context, hdr CommandHeader, payload []uint32) error {

	if err := s.usable(); err != nil {
		return err
	}

	chunks := s.chunks(len(payload))

	for _, c := range chunks {
		if err := s.ch.CheckPayload(c.words); err != nil {
			return err
		}
	}

	for _, c := range chunks {

		h := hdr
		h.Address = c.address(hdr.Address)
		h.Immediate = c.immediate(len(payload))
		h.Length = uint32(c.words)

		if err := s.ch.SendCommand(ctx, h); err != nil {
			return err
		}

		if c.words == 0 {
			continue
		}

		err := s.ch.sendWords(ctx, payload[c.offset:c.offset+c.words], c.offset, len(payload))

		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Session) usable() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// Close releases the register window.  Only the first call releases it, later
// calls return the same result
func (s *Session) Close() error {

	s.close.Do(func() {
		s.closed = true
		s.closeErr = s.win.Close()

		if s.closeErr != nil {
			klog.Warningf("releasing %s: %v", s.name, s.closeErr)
		}
	})

	return s.closeErr
}
