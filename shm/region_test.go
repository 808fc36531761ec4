package shm

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func tempRegion(t *testing.T, requestSize, responseSize uint32) *Region {
	t.Helper()
	path := filepath.Join(t.TempDir(), "region")
	r, err := Create(path, requestSize, responseSize)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegionCreateOpen(t *testing.T) {
	r := tempRegion(t, 1<<20, 1<<20)

	data := []byte("staged for the host")
	if err := r.WriteBytes(RequestArea, 512, data); err != nil {
		t.Fatalf("WriteBytes failed: %v", err)
	}

	peer, err := Open(r.Path())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer peer.Close()

	if peer.AreaSize(RequestArea) != 1<<20 || peer.AreaSize(ResponseArea) != 1<<20 {
		t.Errorf("area sizes %v/%v, expected 1MiB each",
			peer.AreaSize(RequestArea), peer.AreaSize(ResponseArea))
	}

	got, err := peer.ReadBytes(RequestArea, 512, uint32(len(data)))
	if err != nil {
		t.Fatalf("ReadBytes failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("peer read %q, expected %q", got, data)
	}
}

func TestRegionBounds(t *testing.T) {
	const capacity = 64 * 1024
	r := tempRegion(t, capacity, capacity)

	var cases = []struct {
		name   string
		area   Area
		offset uint64
		n      uint32
		ok     bool
	}{
		{"at capacity", RequestArea, 0, capacity, true},
		{"one past", RequestArea, 1, capacity, false},
		{"end slice", ResponseArea, capacity - 16, 16, true},
		{"cross end", ResponseArea, capacity - 16, 17, false},
		{"far out", RequestArea, 1 << 40, 1, false},
	}

	for _, tt := range cases {
		err := r.WriteBytes(tt.area, tt.offset, make([]byte, tt.n))
		if tt.ok && err != nil {
			t.Errorf("WriteBytes(%v) failed: %v", tt.name, err)
		}
		if !tt.ok && err != ErrOutOfBounds {
			t.Errorf("WriteBytes(%v) => %v, expected %v", tt.name, err, ErrOutOfBounds)
		}

		_, err = r.ReadBytes(tt.area, tt.offset, tt.n)
		if tt.ok && err != nil {
			t.Errorf("ReadBytes(%v) failed: %v", tt.name, err)
		}
		if !tt.ok && err != ErrOutOfBounds {
			t.Errorf("ReadBytes(%v) => %v, expected %v", tt.name, err, ErrOutOfBounds)
		}
	}
}

func TestRegionValidation(t *testing.T) {
	r := tempRegion(t, 4096, 4096)
	path := r.Path()

	corrupt := func(offset int64, value uint32) {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			t.Fatalf("open region file: %v", err)
		}
		defer f.Close()
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], value)
		if _, err := f.WriteAt(buf[:], offset); err != nil {
			t.Fatalf("corrupt region file: %v", err)
		}
	}

	// Break the magic.
	corrupt(0, 0x12345678)
	if _, err := Open(path); err != ErrBadMagic {
		t.Errorf("Open with bad magic => %v, expected %v", err, ErrBadMagic)
	}

	// Restore magic, break version.
	corrupt(0, RegionMagic)
	corrupt(4, RegionVersion+7)
	if _, err := Open(path); err != ErrBadVersion {
		t.Errorf("Open with bad version => %v, expected %v", err, ErrBadVersion)
	}
}

func TestRegionRequestCounter(t *testing.T) {
	r := tempRegion(t, 4096, 4096)
	if r.RequestCount() != 0 {
		t.Errorf("fresh region count %v, expected 0", r.RequestCount())
	}
	for i := 0; i < 5; i++ {
		r.AddRequest()
	}
	if r.RequestCount() != 5 {
		t.Errorf("count %v, expected 5", r.RequestCount())
	}

	// The counter lives in the header, so the peer sees it too.
	peer, err := Open(r.Path())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer peer.Close()
	if peer.RequestCount() != 5 {
		t.Errorf("peer count %v, expected 5", peer.RequestCount())
	}
}

func TestRegionClosedAccess(t *testing.T) {
	r := tempRegion(t, 4096, 4096)
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if err := r.WriteBytes(RequestArea, 0, []byte{1}); err != ErrRegionClosed {
		t.Errorf("WriteBytes on closed region => %v, expected %v", err, ErrRegionClosed)
	}
	if _, err := r.ReadBytes(RequestArea, 0, 1); err != ErrRegionClosed {
		t.Errorf("ReadBytes on closed region => %v, expected %v", err, ErrRegionClosed)
	}
}
