package pcienpu

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

const (
	// WindowSize is the number of bytes of device memory mapped for the
	// register window
	WindowSize = 4096
	// WordSize is the width in bytes of a single register
	WordSize = 4
	// WindowRegisters is the number of 32-bit registers in the window
	WindowRegisters = WindowSize / WordSize
)

// Window is a block of 32-bit registers shared with the accelerator.  Register
// indexes run from 0 to Capacity()-1, any access outside that range fails with
// ErrBufferTooLarge and never touches memory
type Window interface {
	// Read32 reads the register at idx
	Read32(idx int) (uint32, error)
	// Write32 writes val to the register at idx
	Write32(idx int, val uint32) error
	// Capacity is the number of registers in the window
	Capacity() int
	// Close releases the window, it is safe to call more than once
	Close() error
}

// DeviceWindow is a Window backed by one page of memory mapped from a PCIe
// device node
type DeviceWindow struct {
	// path of the device node
	path string
	// fd is the open device file descriptor, -1 once closed
	fd int
	// mem is the mapped page, nil once unmapped
	mem []byte
	// mu guards release of fd and mem
	mu sync.Mutex
}

// OpenDevice opens the device node at path read-write and maps one page of its
// memory.  If the mapping fails the device is closed again before returning so
// no resources leak from a failed open
func OpenDevice(path string) (*DeviceWindow, error) {

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_SYNC|unix.O_CLOEXEC, 0)

	if err != nil {
		return nil, errors.Wrapf(ErrDeviceUnavailable, "open %s: %v", path, err)
	}

	w := &DeviceWindow{
		path: path,
		fd:   fd,
	}

	if err := w.mmap(); err != nil {
		// release the descriptor, the window is unusable
		w.Close()
		return nil, err
	}

	klog.V(2).Infof("mapped %d bytes of %s", WindowSize, path)

	return w, nil
}

// mmap maps exactly one page of device memory shared read/write
func (w *DeviceWindow) mmap() error {

	mem, err := unix.Mmap(w.fd, 0, WindowSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)

	if err != nil {
		return errors.Wrapf(ErrMappingFailed, "mmap %s: %v", w.path, err)
	}

	w.mem = mem
	return nil
}

// Path returns the device node the window was opened from
func (w *DeviceWindow) Path() string {
	return w.path
}

// Capacity returns the number of registers in the window
func (w *DeviceWindow) Capacity() int {
	return WindowRegisters
}

// reg returns a pointer to the register at idx
func (w *DeviceWindow) reg(idx int) (*uint32, error) {

	if w.mem == nil {
		return nil, ErrSessionClosed
	}

	if idx < 0 || idx >= WindowRegisters {
		return nil, errors.Wrapf(ErrBufferTooLarge,
			"register %d outside window [0-%d)", idx, WindowRegisters)
	}

	return (*uint32)(unsafe.Pointer(&w.mem[idx*WordSize])), nil
}

// Read32 performs a single 32-bit load of the register at idx
func (w *DeviceWindow) Read32(idx int) (uint32, error) {

	r, err := w.reg(idx)

	if err != nil {
		return 0, err
	}

	return atomic.LoadUint32(r), nil
}

// Write32 performs a single 32-bit store to the register at idx
func (w *DeviceWindow) Write32(idx int, val uint32) error {

	r, err := w.reg(idx)

	if err != nil {
		return err
	}

	atomic.StoreUint32(r, val)
	return nil
}

// Close unmaps the register window and closes the device node.  Calling it
// again after the first release is a no-op
func (w *DeviceWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error

	if w.mem != nil {
		if unmapErr := unix.Munmap(w.mem); unmapErr != nil {
			err = errors.Wrapf(unmapErr, "munmap %s", w.path)
		}
		w.mem = nil
	}

	if w.fd >= 0 {
		if closeErr := unix.Close(w.fd); closeErr != nil && err == nil {
			err = errors.Wrapf(closeErr, "close %s", w.path)
		}
		w.fd = -1
	}

	return err
}

// MemWindow is a Window held in process memory.  It stands in for the device
// when running without hardware and in tests
type MemWindow struct {
	regs   []uint32
	closed bool
}

// NewMemWindow returns a MemWindow with the given number of registers
func NewMemWindow(registers int) *MemWindow {
	return &MemWindow{
		regs: make([]uint32, registers),
	}
}

// Capacity returns the number of registers in the window
func (m *MemWindow) Capacity() int {
	return len(m.regs)
}

// Read32 reads the register at idx
func (m *MemWindow) Read32(idx int) (uint32, error) {

	if err := m.check(idx); err != nil {
		return 0, err
	}

	return m.regs[idx], nil
}

// Write32 writes val to the register at idx
func (m *MemWindow) Write32(idx int, val uint32) error {

	if err := m.check(idx); err != nil {
		return err
	}

	m.regs[idx] = val
	return nil
}

func (m *MemWindow) check(idx int) error {

	if m.closed {
		return ErrSessionClosed
	}

	if idx < 0 || idx >= len(m.regs) {
		return errors.Wrapf(ErrBufferTooLarge,
			"register %d outside window [0-%d)", idx, len(m.regs))
	}

	return nil
}

// Close marks the window released
func (m *MemWindow) Close() error {
	m.closed = true
	return nil
}
