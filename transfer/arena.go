/*
 Copyright © 2026 The hostcall Authors

 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

// Package transfer moves guest buffers across the boundary without copies.
// The guest allocates buffers out of a mapped arena and pins them; pinning
// produces a descriptor the host can resolve into a scoped mapping over the
// same pages. Every resolve is bounds-checked against the arena.
package transfer

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hostcall/hostcall/protocol"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// DefaultArenaSize is the arena capacity when the caller does not
	// choose one. Large enough for a full descriptor set of maximum
	// buffers is not required; the arena backs the zero-copy path only.
	DefaultArenaSize = 256 * 1024 * 1024

	allocAlign = 4096
)

var (
	// ErrArenaFull means the bump allocator ran out of space.
	ErrArenaFull = errors.New("arena is full")
	// ErrArenaClosed means the arena mapping has been torn down.
	ErrArenaClosed = errors.New("arena is closed")
	// ErrPinFailed means the pages could not be locked for transfer.
	ErrPinFailed = errors.New("failed to pin buffer")
	// ErrMapFailed means a descriptor could not be resolved to memory.
	ErrMapFailed = errors.New("failed to map buffer")
	// ErrSizeExceedsLimit means a descriptor names more bytes than a
	// single buffer may carry.
	ErrSizeExceedsLimit = errors.New("buffer size exceeds limit")
	// ErrNotPinned means the descriptor does not name an active pin.
	ErrNotPinned = errors.New("buffer is not pinned")
)

type pin struct {
	size uint32
	refs int
}

// Arena is a file-backed mapping shared between the peers. The guest side
// allocates and pins; the host side resolves. Offsets are the common
// currency: a descriptor's location is a byte offset into the arena.
type Arena struct {
	mu   sync.Mutex
	path string
	file *os.File
	mem  []byte
	next uint64
	pins map[uint64]*pin
}

// Create builds and maps a new arena file of the given size.
func Create(path string, size int64) (*Arena, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create arena file %s: %v", path, err)
	}
	if err := file.Truncate(size); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to size arena file: %v", err)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to mmap arena: %v", err)
	}
	logrus.Infof("Created arena %s: %v bytes", path, size)
	return &Arena{
		path: path,
		file: file,
		mem:  mem,
		pins: map[uint64]*pin{},
	}, nil
}

// Open maps an existing arena file, typically the peer's.
func Open(path string) (*Arena, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open arena file %s: %v", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat arena file: %v", err)
	}
	mem, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap arena: %v", err)
	}
	return &Arena{
		path: path,
		file: file,
		mem:  mem,
		pins: map[uint64]*pin{},
	}, nil
}

// Path returns the backing file path, used by the peer to open the arena.
func (a *Arena) Path() string {
	return a.path
}

// Size returns the arena capacity.
func (a *Arena) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.mem))
}

// Buffer is one allocation out of the arena. It never owns the pages; the
// arena does.
type Buffer struct {
	arena  *Arena
	offset uint64
	size   uint32
}

// Alloc carves size bytes out of the arena. Allocations are page aligned
// and live for the lifetime of the arena; there is no free list because
// sessions recycle whole arenas, not buffers.
func (a *Arena) Alloc(size uint32) (*Buffer, error) {
	if size > protocol.MaxBufferSize {
		return nil, ErrSizeExceedsLimit
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil, ErrArenaClosed
	}
	aligned := (uint64(size) + allocAlign - 1) &^ (allocAlign - 1)
	if a.next+aligned > uint64(len(a.mem)) {
		return nil, ErrArenaFull
	}
	b := &Buffer{arena: a, offset: a.next, size: size}
	a.next += aligned
	return b, nil
}

// Offset returns the buffer's byte offset into the arena.
func (b *Buffer) Offset() uint64 {
	return b.offset
}

// Size returns the buffer length in bytes.
func (b *Buffer) Size() uint32 {
	return b.size
}

// Bytes returns the buffer's backing slice. Valid until the arena closes.
func (b *Buffer) Bytes() []byte {
	return b.arena.mem[b.offset : b.offset+uint64(b.size)]
}

// Pin locks the buffer's pages and returns a descriptor the peer can
// resolve. Pins are counted; a buffer pinned twice must be unpinned twice.
func (a *Arena) Pin(b *Buffer, access uint32) (protocol.BufferDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return protocol.BufferDescriptor{}, ErrArenaClosed
	}
	if p, ok := a.pins[b.offset]; ok {
		p.refs++
	} else {
		if err := unix.Mlock(a.mem[b.offset : b.offset+uint64(b.size)]); err != nil {
			logrus.Errorf("Failed to lock %v bytes at arena offset %v: %v", b.size, b.offset, err)
			return protocol.BufferDescriptor{}, ErrPinFailed
		}
		a.pins[b.offset] = &pin{size: b.size, refs: 1}
	}
	return protocol.BufferDescriptor{
		Location: b.offset,
		Size:     b.size,
		Flags:    (access & 0xF) | protocol.LocArena,
	}, nil
}

// Unpin drops one pin reference; the pages unlock when the count hits zero.
func (a *Arena) Unpin(desc protocol.BufferDescriptor) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return ErrArenaClosed
	}
	p, ok := a.pins[desc.Location]
	if !ok {
		return ErrNotPinned
	}
	p.refs--
	if p.refs > 0 {
		return nil
	}
	delete(a.pins, desc.Location)
	return unix.Munlock(a.mem[desc.Location : desc.Location+uint64(p.size)])
}

// Mapping is a scoped view over a resolved descriptor. Close is idempotent;
// the underlying pages outlive the mapping.
type Mapping struct {
	arena    *Arena
	data     []byte
	released bool
}

// Resolve turns a pinned descriptor into a mapping over the same pages.
// The access is rejected before any byte is touched if the descriptor
// would reach outside the arena.
func (a *Arena) Resolve(desc protocol.BufferDescriptor) (*Mapping, error) {
	if desc.Size > protocol.MaxBufferSize {
		return nil, ErrSizeExceedsLimit
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil, ErrArenaClosed
	}
	end := desc.Location + uint64(desc.Size)
	if end < desc.Location || end > uint64(len(a.mem)) {
		logrus.Errorf("Rejecting resolve of %v bytes at arena offset %v, capacity %v", desc.Size, desc.Location, len(a.mem))
		return nil, ErrMapFailed
	}
	return &Mapping{
		arena: a,
		data:  a.mem[desc.Location:end],
	}, nil
}

// Bytes returns the mapped view. Nil after Close.
func (m *Mapping) Bytes() []byte {
	if m.released {
		return nil
	}
	return m.data
}

// Close releases the mapping. Safe to call more than once.
func (m *Mapping) Close() error {
	if m.released {
		return nil
	}
	m.released = true
	m.data = nil
	return nil
}

// Pinned reports the number of active pins, used by stats.
func (a *Arena) Pinned() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pins)
}

// Close unlocks any remaining pins, unmaps the arena and closes the file.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mem == nil {
		return nil
	}
	for off, p := range a.pins {
		if err := unix.Munlock(a.mem[off : off+uint64(p.size)]); err != nil {
			logrus.Errorf("Failed to unlock arena pages at offset %v: %v", off, err)
		}
	}
	a.pins = map[uint64]*pin{}
	err := unix.Munmap(a.mem)
	a.mem = nil
	if cerr := a.file.Close(); err == nil {
		err = cerr
	}
	return err
}
