package transfer

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/hostcall/hostcall/protocol"
)

func tempArena(t *testing.T, size int64) *Arena {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena")
	a, err := Create(path, size)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArenaAllocAndResolve(t *testing.T) {
	a := tempArena(t, 1<<20)

	b, err := a.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	copy(b.Bytes(), []byte("pinned payload"))

	desc, err := a.Pin(b, protocol.AccessRead)
	if err != nil {
		t.Fatalf("Pin failed: %v", err)
	}
	if desc.LocationKind() != protocol.LocArena {
		t.Errorf("descriptor location kind 0x%x, expected LocArena", desc.LocationKind())
	}
	if desc.Size != 4096 || desc.Location != b.Offset() {
		t.Errorf("descriptor %+v does not match buffer", desc)
	}

	m, err := a.Resolve(desc)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !bytes.Equal(m.Bytes()[:14], []byte("pinned payload")) {
		t.Errorf("resolved view %q, expected pinned payload", m.Bytes()[:14])
	}

	// Writes through the mapping land in the buffer: same pages.
	m.Bytes()[0] = 'P'
	if b.Bytes()[0] != 'P' {
		t.Error("mapping write not visible through buffer")
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if m.Bytes() != nil {
		t.Error("Bytes after Close is not nil")
	}

	if err := a.Unpin(desc); err != nil {
		t.Errorf("Unpin failed: %v", err)
	}
	if err := a.Unpin(desc); err != ErrNotPinned {
		t.Errorf("double Unpin => %v, expected %v", err, ErrNotPinned)
	}
}

func TestArenaPinRefCounting(t *testing.T) {
	a := tempArena(t, 1<<20)
	b, err := a.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	d1, err := a.Pin(b, protocol.AccessRead)
	if err != nil {
		t.Fatalf("first Pin failed: %v", err)
	}
	d2, err := a.Pin(b, protocol.AccessRead)
	if err != nil {
		t.Fatalf("second Pin failed: %v", err)
	}

	if err := a.Unpin(d1); err != nil {
		t.Fatalf("Unpin failed: %v", err)
	}
	if a.Pinned() != 1 {
		t.Errorf("pinned count %v after one unpin, expected 1", a.Pinned())
	}
	if err := a.Unpin(d2); err != nil {
		t.Fatalf("Unpin failed: %v", err)
	}
	if a.Pinned() != 0 {
		t.Errorf("pinned count %v, expected 0", a.Pinned())
	}
}

func TestArenaResolveBounds(t *testing.T) {
	a := tempArena(t, 1<<20)

	var cases = []struct {
		name string
		desc protocol.BufferDescriptor
		err  error
	}{
		{"past end", protocol.BufferDescriptor{Location: 1 << 20, Size: 1}, ErrMapFailed},
		{"crossing end", protocol.BufferDescriptor{Location: (1 << 20) - 10, Size: 11}, ErrMapFailed},
		{"overflowing", protocol.BufferDescriptor{Location: ^uint64(0) - 5, Size: 10}, ErrMapFailed},
		{"too large", protocol.BufferDescriptor{Location: 0, Size: protocol.MaxBufferSize + 1}, ErrSizeExceedsLimit},
	}

	for _, tt := range cases {
		if _, err := a.Resolve(tt.desc); err != tt.err {
			t.Errorf("Resolve(%v) => %v, expected %v", tt.name, err, tt.err)
		}
	}

	// Within bounds resolves even without a pin on this side; the pin
	// lives with the allocating peer.
	if _, err := a.Resolve(protocol.BufferDescriptor{Location: 0, Size: 4096}); err != nil {
		t.Errorf("Resolve in bounds failed: %v", err)
	}
}

func TestArenaAllocLimits(t *testing.T) {
	a := tempArena(t, 64*1024)

	if _, err := a.Alloc(protocol.MaxBufferSize + 1); err != ErrSizeExceedsLimit {
		t.Errorf("Alloc oversized => %v, expected %v", err, ErrSizeExceedsLimit)
	}

	if _, err := a.Alloc(60 * 1024); err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if _, err := a.Alloc(8 * 1024); err != ErrArenaFull {
		t.Errorf("Alloc past capacity => %v, expected %v", err, ErrArenaFull)
	}
}
