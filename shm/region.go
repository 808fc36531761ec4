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

// Package shm manages the fixed-layout shared region both peers map for
// large-payload transfers: a stamped header block, a request area and a
// response area, with every access bounds-checked before it happens.
package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	// RegionMagic stamps the region header ("WINA").
	RegionMagic = uint32(0x57494E41)
	// RegionVersion is the region layout version.
	RegionVersion = uint32(1)
	// RegionHeaderSize is the reserved header block at the start of the
	// region. The request area begins immediately after it.
	RegionHeaderSize = 4096

	// DefaultRequestAreaSize and DefaultResponseAreaSize match the sizes
	// the guest library historically mapped.
	DefaultRequestAreaSize  = 15 * 1024 * 1024
	DefaultResponseAreaSize = 15 * 1024 * 1024

	// SafeZoneSize is the guard width near the end of each area. Bounds
	// checks make it informational; it is kept so both peers agree on
	// what the usable capacity means.
	SafeZoneSize = 32 * 1024
)

var (
	// ErrBadMagic means the mapped file is not a region we created.
	ErrBadMagic = errors.New("bad region magic")
	// ErrBadVersion means the region was created by an incompatible peer.
	ErrBadVersion = errors.New("bad region version")
	// ErrOutOfBounds means offset+len would cross an area boundary.
	ErrOutOfBounds = errors.New("region access out of bounds")
	// ErrRegionClosed means the region mapping has been torn down.
	ErrRegionClosed = errors.New("region is closed")
)

// Area selects one of the two data areas of the region.
type Area int

const (
	// RequestArea carries guest-to-host payloads.
	RequestArea Area = iota
	// ResponseArea carries host-to-guest payloads.
	ResponseArea
)

func (a Area) String() string {
	if a == RequestArea {
		return "request"
	}
	return "response"
}

// Region is a mapped shared region. The layout is computed once from
// constants at creation and validated on open; it is never renegotiated.
// The region provides no internal synchronization beyond its own header
// bookkeeping: callers serialize access per in-flight request.
type Region struct {
	mu   sync.Mutex
	path string
	file *os.File
	mem  []byte

	requestOffset  uint64
	responseOffset uint64
	requestSize    uint32
	responseSize   uint32
}

// Create builds a new region file of the given area sizes, maps it and
// stamps the header. The creating side owns the backing allocation.
func Create(path string, requestSize, responseSize uint32) (*Region, error) {
	total := int64(RegionHeaderSize) + int64(requestSize) + int64(responseSize)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create region file %s: %v", path, err)
	}
	if err := file.Truncate(total); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to size region file: %v", err)
	}
	mem, err := mapFile(file, int(total))
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	r := &Region{
		path:           path,
		file:           file,
		mem:            mem,
		requestOffset:  RegionHeaderSize,
		responseOffset: RegionHeaderSize + uint64(requestSize),
		requestSize:    requestSize,
		responseSize:   responseSize,
	}
	r.stampHeader()
	logrus.Infof("Created shared region %s: request %v bytes, response %v bytes", path, requestSize, responseSize)
	return r, nil
}

// Open maps an existing region and validates its header before reading
// anything else out of it.
func Open(path string) (*Region, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open region file %s: %v", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat region file: %v", err)
	}
	if info.Size() < RegionHeaderSize {
		file.Close()
		return nil, fmt.Errorf("region file too small: %d bytes", info.Size())
	}
	mem, err := mapFile(file, int(info.Size()))
	if err != nil {
		file.Close()
		return nil, err
	}

	r := &Region{path: path, file: file, mem: mem}
	if err := r.validate(); err != nil {
		unix.Munmap(mem)
		file.Close()
		return nil, err
	}
	logrus.Infof("Opened shared region %s: request %v bytes, response %v bytes", path, r.requestSize, r.responseSize)
	return r, nil
}

// Region header layout, little-endian:
//
//	0  magic          4  version       8  request count  12 flags
//	16 request offset 24 response offset
//	32 request size   36 response size  40.. reserved
func (r *Region) stampHeader() {
	h := r.mem[:RegionHeaderSize]
	for i := range h {
		h[i] = 0
	}
	binary.LittleEndian.PutUint32(h[0:4], RegionMagic)
	binary.LittleEndian.PutUint32(h[4:8], RegionVersion)
	binary.LittleEndian.PutUint64(h[16:24], r.requestOffset)
	binary.LittleEndian.PutUint64(h[24:32], r.responseOffset)
	binary.LittleEndian.PutUint32(h[32:36], r.requestSize)
	binary.LittleEndian.PutUint32(h[36:40], r.responseSize)
}

// validate checks the stamped header. Magic and version are checked before
// any other field is trusted.
func (r *Region) validate() error {
	h := r.mem[:RegionHeaderSize]
	if binary.LittleEndian.Uint32(h[0:4]) != RegionMagic {
		return ErrBadMagic
	}
	if binary.LittleEndian.Uint32(h[4:8]) != RegionVersion {
		return ErrBadVersion
	}
	r.requestOffset = binary.LittleEndian.Uint64(h[16:24])
	r.responseOffset = binary.LittleEndian.Uint64(h[24:32])
	r.requestSize = binary.LittleEndian.Uint32(h[32:36])
	r.responseSize = binary.LittleEndian.Uint32(h[36:40])

	need := int64(r.responseOffset) + int64(r.responseSize)
	if r.requestOffset != RegionHeaderSize ||
		r.responseOffset != r.requestOffset+uint64(r.requestSize) ||
		need > int64(len(r.mem)) {
		return fmt.Errorf("inconsistent region layout in %s", r.path)
	}
	return nil
}

// Path returns the backing file path, used by the peer to open the region.
func (r *Region) Path() string {
	return r.path
}

// AreaSize returns the fixed capacity of an area.
func (r *Region) AreaSize(area Area) uint32 {
	if area == RequestArea {
		return r.requestSize
	}
	return r.responseSize
}

func (r *Region) areaBounds(area Area) (uint64, uint32) {
	if area == RequestArea {
		return r.requestOffset, r.requestSize
	}
	return r.responseOffset, r.responseSize
}

// WriteBytes copies data into an area at offset. The write is rejected
// before a single byte moves if it would cross the area boundary.
func (r *Region) WriteBytes(area Area, offset uint64, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return ErrRegionClosed
	}
	base, size := r.areaBounds(area)
	if offset > uint64(size) || uint64(len(data)) > uint64(size)-offset {
		logrus.Errorf("Rejecting %v-area write of %v bytes at offset %v, capacity %v", area, len(data), offset, size)
		return ErrOutOfBounds
	}
	copy(r.mem[base+offset:], data)
	return nil
}

// ReadBytes returns a view of length n at offset in an area. The view stays
// valid until the region is closed; callers that hold data across requests
// must copy it.
func (r *Region) ReadBytes(area Area, offset uint64, n uint32) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil, ErrRegionClosed
	}
	base, size := r.areaBounds(area)
	if offset > uint64(size) || uint64(n) > uint64(size)-offset {
		return nil, ErrOutOfBounds
	}
	return r.mem[base+offset : base+offset+uint64(n)], nil
}

// AddRequest bumps the request counter in the region header.
func (r *Region) AddRequest() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return
	}
	h := r.mem[:RegionHeaderSize]
	binary.LittleEndian.PutUint32(h[8:12], binary.LittleEndian.Uint32(h[8:12])+1)
}

// RequestCount reads the request counter.
func (r *Region) RequestCount() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(r.mem[8:12])
}

// Sync flushes the mapping to the backing file.
func (r *Region) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return ErrRegionClosed
	}
	return unix.Msync(r.mem, unix.MS_SYNC)
}

// Close unmaps the region and closes the backing file.
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mem == nil {
		return nil
	}
	err := unix.Munmap(r.mem)
	r.mem = nil
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func mapFile(file *os.File, size int) ([]byte, error) {
	mem, err := unix.Mmap(int(file.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap region: %v", err)
	}
	return mem, nil
}
