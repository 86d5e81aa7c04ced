package pins

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ppdev requests from linux/ppdev.h.
const (
	ppClaim   = 0x708b     // _IO('p', 0x8b)
	ppRelease = 0x708c     // _IO('p', 0x8c)
	ppSetMode = 0x40047080 // _IOW('p', 0x80, int)
	ppRData   = 0x80017085 // _IOR('p', 0x85, unsigned char)
	ppWData   = 0x40017086 // _IOW('p', 0x86, unsigned char)

	ieee1284ModeByte = 1 << 0
)

// ParallelPort is a claimed ppdev device in byte mode.
type ParallelPort struct {
	device string
	fd     int
}

// OpenParallelPort opens and claims device (e.g. /dev/parport0).
func OpenParallelPort(device string) (*ParallelPort, error) {
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("could not open parallel port %s: %w", device, err)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ppClaim, 0); errno != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("could not claim parallel port %s: %w", device, errno)
	}
	mode := int32(ieee1284ModeByte)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ppSetMode, uintptr(unsafe.Pointer(&mode))); errno != 0 {
		unix.Syscall(unix.SYS_IOCTL, uintptr(fd), ppRelease, 0)
		unix.Close(fd)
		return nil, fmt.Errorf("unable to set parallel port %s in byte mode: %w", device, errno)
	}
	return &ParallelPort{device: device, fd: fd}, nil
}

func (p *ParallelPort) ReadData() (byte, error) {
	var v byte
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), ppRData, uintptr(unsafe.Pointer(&v))); errno != 0 {
		return 0, fmt.Errorf("could not read parallel port %s: %w", p.device, errno)
	}
	return v, nil
}

func (p *ParallelPort) WriteData(v byte) error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), ppWData, uintptr(unsafe.Pointer(&v))); errno != 0 {
		return fmt.Errorf("could not write parallel port %s: %w", p.device, errno)
	}
	return nil
}

// Close releases and closes the device.
func (p *ParallelPort) Close() error {
	if p.fd < 0 {
		return nil
	}
	unix.Syscall(unix.SYS_IOCTL, uintptr(p.fd), ppRelease, 0)
	err := unix.Close(p.fd)
	p.fd = -1
	return err
}

// ParallelPortBackend drives the data lines of one ppdev device. The
// device is opened with the first pin and closed with the backend.
type ParallelPortBackend struct {
	Device string

	mu   sync.Mutex
	port *ParallelPort
	rmw  sync.Mutex
}

// NewParallelPortBackend returns a backend for device.
func NewParallelPortBackend(device string) *ParallelPortBackend {
	return &ParallelPortBackend{Device: device}
}

func (b *ParallelPortBackend) Open(s Spec) (Pin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		port, err := OpenParallelPort(b.Device)
		if err != nil {
			return nil, err
		}
		b.port = port
	}
	return newBitPin(s.Name, s.Index, b.port, &b.rmw)
}

func (b *ParallelPortBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.port == nil {
		return nil
	}
	err := b.port.Close()
	b.port = nil
	return err
}
