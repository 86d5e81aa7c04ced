package pins

import (
	"fmt"
	"sync"
)

// Port is an 8-bit data register.
type Port interface {
	ReadData() (byte, error)
	WriteData(value byte) error
}

// bitPin is one bit of a shared Port. Pins on the same register share mu
// so a read-modify-write is never interleaved with another pin's.
type bitPin struct {
	name string
	bit  uint8
	port Port
	mu   *sync.Mutex
}

func newBitPin(name string, index uint32, port Port, mu *sync.Mutex) (*bitPin, error) {
	if index > 7 {
		return nil, fmt.Errorf("pin %q: data line %d out of range [0, 7]", name, index)
	}
	return &bitPin{name: name, bit: uint8(index), port: port, mu: mu}, nil
}

func (p *bitPin) Name() string { return p.name }

func (p *bitPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.port.ReadData()
	if err != nil {
		return err
	}
	if high {
		v |= 1 << p.bit
	} else {
		v &^= 1 << p.bit
	}
	return p.port.WriteData(v)
}

func (p *bitPin) High() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.port.ReadData()
	if err != nil {
		return false, err
	}
	return v>>p.bit&1 == 1, nil
}

// MemoryPort is a Port kept in memory.
type MemoryPort struct {
	mu    sync.Mutex
	value byte
}

func (m *MemoryPort) ReadData() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

func (m *MemoryPort) WriteData(v byte) error {
	m.mu.Lock()
	m.value = v
	m.mu.Unlock()
	return nil
}

// Value returns the register contents.
func (m *MemoryPort) Value() byte {
	v, _ := m.ReadData()
	return v
}

// MemoryBackend keeps one MemoryPort per address. It backs dry runs.
type MemoryBackend struct {
	mu    sync.Mutex
	ports map[uint32]*MemoryPort
	locks map[uint32]*sync.Mutex
}

// NewMemoryBackend returns an empty memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		ports: make(map[uint32]*MemoryPort),
		locks: make(map[uint32]*sync.Mutex),
	}
}

// Port returns the register at address, creating it if needed.
func (b *MemoryBackend) Port(address uint32) *MemoryPort {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port(address)
}

func (b *MemoryBackend) port(address uint32) *MemoryPort {
	p, ok := b.ports[address]
	if !ok {
		p = &MemoryPort{}
		b.ports[address] = p
		b.locks[address] = &sync.Mutex{}
	}
	return p
}

func (b *MemoryBackend) Open(s Spec) (Pin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	port := b.port(s.Address)
	return newBitPin(s.Name, s.Index, port, b.locks[s.Address])
}

func (b *MemoryBackend) Close() error { return nil }
