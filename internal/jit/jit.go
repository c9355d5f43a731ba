// Package jit owns the executable memory that trampolines live in.
//
// A block that has been wired into live code may still be jumped to by any
// thread, so once it is handed to a Pool it is kept until the process exits.
package jit

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidSize means a non-positive allocation size
	ErrInvalidSize = errors.New("invalid jit memory size")
	// ErrAlloc means the OS refused the mapping
	ErrAlloc = errors.New("jit memory allocation failed")
)

// os hooks, replaced in tests
var (
	mapMemory   = osMap
	unmapMemory = osUnmap
)

// Memory is one executable, read/write OS mapping. It has exactly one owner:
// Move hands it over and leaves the source empty.
type Memory struct {
	data []byte
}

// Allocate maps size bytes of committed read/write/execute memory.
func Allocate(size int) (*Memory, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "%d", size)
	}
	data, err := mapMemory(0, size)
	if err != nil {
		return nil, errors.Wrapf(ErrAlloc, "%d bytes: %v", size, err)
	}
	return &Memory{data: data[:size:size]}, nil
}

const (
	// hints are multiples of the Windows allocation granularity
	nearStep  = 4 << 20
	nearTries = 256
	nearReach = 1<<31 - 1<<24
)

// AllocateNear is Allocate preferring memory that a rel32 displacement
// from addr reaches. When no such range is free it returns memory anywhere.
func AllocateNear(addr uintptr, size int) (*Memory, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "%d", size)
	}
	if unsafe.Sizeof(addr) == 4 {
		return Allocate(size)
	}
	base := addr &^ (nearStep - 1)
	for i := uintptr(1); i <= nearTries; i++ {
		off := i * nearStep
		hints := make([]uintptr, 0, 2)
		if base+off > base {
			hints = append(hints, base+off)
		}
		if base > off {
			hints = append(hints, base-off)
		}
		for _, hint := range hints {
			data, err := mapMemory(hint, size)
			if err != nil {
				continue
			}
			p := uintptr(unsafe.Pointer(&data[0]))
			if near(p, addr) && near(p+uintptr(size), addr) {
				return &Memory{data: data[:size:size]}, nil
			}
			_ = unmapMemory(data)
		}
	}
	return Allocate(size)
}

func near(a, b uintptr) bool {
	if a > b {
		return a-b < nearReach
	}
	return b-a < nearReach
}

// Addr returns the base address, 0 when empty.
func (m *Memory) Addr() uintptr {
	if m.Empty() {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.data[0]))
}

// Len returns the usable length in bytes.
func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	return len(m.data)
}

// Bytes returns the block contents.
func (m *Memory) Bytes() []byte {
	if m == nil {
		return nil
	}
	return m.data
}

// Empty reports whether the block owns nothing.
func (m *Memory) Empty() bool {
	return m == nil || m.data == nil
}

// Move transfers ownership to the returned block.
func (m *Memory) Move() *Memory {
	if m.Empty() {
		return &Memory{}
	}
	moved := &Memory{data: m.data}
	m.data = nil
	return moved
}

// Release unmaps the block. It is a no-op on an empty block.
func (m *Memory) Release() error {
	if m.Empty() {
		return nil
	}
	data := m.data
	m.data = nil
	return unmapMemory(data[:cap(data)])
}

// Block describes a retained mapping.
type Block struct {
	Addr uintptr
	Len  int
}

// Pool keeps trampoline memory alive for the rest of the process.
type Pool struct {
	mu     sync.Mutex
	blocks []*Memory
}

// Default is the process-wide pool.
var Default = &Pool{}

// Retain takes ownership of m, leaving the caller's handle empty.
func (p *Pool) Retain(m *Memory) {
	if m.Empty() {
		return
	}
	owned := m.Move()
	p.mu.Lock()
	p.blocks = append(p.blocks, owned)
	p.mu.Unlock()
}

// Len returns the number of retained blocks.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// Blocks returns the retained blocks in retention order.
func (p *Pool) Blocks() []Block {
	p.mu.Lock()
	defer p.mu.Unlock()
	blocks := make([]Block, len(p.blocks))
	for i, m := range p.blocks {
		blocks[i] = Block{Addr: m.Addr(), Len: m.Len()}
	}
	return blocks
}

// Contains reports whether addr lies in a retained block.
func (p *Pool) Contains(addr uintptr) bool {
	for _, b := range p.Blocks() {
		if addr >= b.Addr && addr < b.Addr+uintptr(b.Len) {
			return true
		}
	}
	return false
}
