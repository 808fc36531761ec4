package guest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hostcall/hostcall/api"
	"github.com/hostcall/hostcall/protocol"
	"github.com/hostcall/hostcall/rpc"
	"github.com/hostcall/hostcall/shm"
	"github.com/hostcall/hostcall/transfer"
	"github.com/hostcall/hostcall/types"
)

var order = binary.LittleEndian

// testHost runs the full host stack over an in-process pipe: real region
// and arena files, both mapped twice the way separate processes would.
type testHost struct {
	region *shm.Region
	arena  *transfer.Arena
	server *rpc.Server
}

func startTestHost(t *testing.T, regionAreaSize uint32, exec types.Executor) (*Session, *testHost) {
	t.Helper()
	dir := t.TempDir()

	hostRegion, err := shm.Create(filepath.Join(dir, "region"), regionAreaSize, regionAreaSize)
	if err != nil {
		t.Fatalf("create region: %v", err)
	}
	t.Cleanup(func() { hostRegion.Close() })
	hostArena, err := transfer.Create(filepath.Join(dir, "arena"), 4<<20)
	if err != nil {
		t.Fatalf("create arena: %v", err)
	}
	t.Cleanup(func() { hostArena.Close() })

	if exec == nil {
		exec = api.NewExecutor(order, hostRegion, hostArena)
	}

	guestEnd, hostEnd := net.Pipe()
	server := rpc.NewServer(rpc.NewWire(hostEnd, protocol.NewNativeCodec()), exec)
	go server.Handle()

	guestRegion, err := shm.Open(hostRegion.Path())
	if err != nil {
		t.Fatalf("open region: %v", err)
	}
	guestArena, err := transfer.Open(hostArena.Path())
	if err != nil {
		t.Fatalf("open arena: %v", err)
	}

	s := NewSession(guestEnd, protocol.NewNativeCodec(), guestRegion, guestArena, 2*time.Second)
	t.Cleanup(func() { s.Close() })

	return s, &testHost{region: hostRegion, arena: hostArena, server: server}
}

func TestSessionEcho(t *testing.T) {
	s, _ := startTestHost(t, 1<<20, nil)

	out, err := s.Echo([]byte("roundtrip"))
	if err != nil {
		t.Fatalf("Echo failed: %v", err)
	}
	if string(out) != "Echo: roundtrip" {
		t.Errorf("echo => %q, expected %q", out, "Echo: roundtrip")
	}
}

func TestSessionEchoConcurrent(t *testing.T) {
	s, _ := startTestHost(t, 1<<20, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := fmt.Sprintf("message-%d", i)
			out, err := s.Echo([]byte(msg))
			if err != nil {
				errs <- err
				return
			}
			if string(out) != "Echo: "+msg {
				errs <- fmt.Errorf("echo => %q for %q", out, msg)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSessionBufferReadViaRegion(t *testing.T) {
	s, _ := startTestHost(t, 1<<20, nil)

	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i % 239)
	}

	out, err := s.BufferTest(protocol.BufferOpRead, 0, []TestBuffer{{Data: data}})
	if err != nil {
		t.Fatalf("BufferTest failed: %v", err)
	}
	if out.BytesProcessed != uint64(len(data)) {
		t.Errorf("bytes processed %v, expected %v", out.BytesProcessed, len(data))
	}
	if out.Checksum != api.Checksum(data) {
		t.Errorf("checksum 0x%08x, expected 0x%08x", out.Checksum, api.Checksum(data))
	}
}

func TestSessionBufferExceedsRegionFallsBackToStream(t *testing.T) {
	// Region areas hold 1MiB; the payload is 2MiB, so it must stream and
	// still succeed.
	s, _ := startTestHost(t, 1<<20, nil)

	data := make([]byte, 2<<20)
	for i := range data {
		data[i] = byte(i * 13)
	}

	out, err := s.BufferTest(protocol.BufferOpRead, 0, []TestBuffer{{Data: data}})
	if err != nil {
		t.Fatalf("BufferTest failed: %v", err)
	}
	if out.BytesProcessed != uint64(len(data)) {
		t.Errorf("bytes processed %v, expected %v", out.BytesProcessed, len(data))
	}
	if out.Checksum != api.Checksum(data) {
		t.Errorf("checksum 0x%08x, expected 0x%08x", out.Checksum, api.Checksum(data))
	}
}

func TestSessionBufferWriteAllStrategies(t *testing.T) {
	const pattern = uint32(0xA5A5F00F)
	s, _ := startTestHost(t, 64*1024, nil)

	expected := func(n int) []byte {
		var word [4]byte
		order.PutUint32(word[:], pattern)
		out := make([]byte, n)
		for i := range out {
			out[i] = word[i%4]
		}
		return out
	}

	// Region path: fits the 64KiB response area.
	regionBuf := TestBuffer{Data: make([]byte, 16*1024)}
	// Stream path: larger than the region area.
	streamBuf := TestBuffer{Data: make([]byte, 128*1024)}
	// Zero-copy path: lives in the arena.
	arenaAlloc, err := s.AllocBuffer(4096)
	if err != nil {
		t.Fatalf("AllocBuffer failed: %v", err)
	}
	arenaBuf := TestBuffer{Arena: arenaAlloc}

	out, err := s.BufferTest(protocol.BufferOpWrite, pattern, []TestBuffer{regionBuf, streamBuf, arenaBuf})
	if err != nil {
		t.Fatalf("BufferTest failed: %v", err)
	}
	total := uint64(len(regionBuf.Data) + len(streamBuf.Data) + 4096)
	if out.BytesProcessed != total {
		t.Errorf("bytes processed %v, expected %v", out.BytesProcessed, total)
	}

	if !bytes.Equal(regionBuf.Data, expected(len(regionBuf.Data))) {
		t.Error("region buffer missing pattern fill")
	}
	if !bytes.Equal(streamBuf.Data, expected(len(streamBuf.Data))) {
		t.Error("stream buffer missing pattern fill")
	}
	if !bytes.Equal(arenaAlloc.Bytes(), expected(4096)) {
		t.Error("arena buffer missing pattern fill")
	}
}

func TestSessionVerify(t *testing.T) {
	const pattern = uint32(0x21524110)
	s, _ := startTestHost(t, 1<<20, nil)

	// Host writes, guest hands the same bytes back for verification.
	buf := TestBuffer{Data: make([]byte, 4096)}
	if _, err := s.BufferTest(protocol.BufferOpWrite, pattern, []TestBuffer{buf}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	out, err := s.BufferTest(protocol.BufferOpVerify, pattern, []TestBuffer{buf})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if out.Status != protocol.BufferStatusOK {
		t.Errorf("verify status %v, expected OK", out.Status)
	}

	buf.Data[100] ^= 0xFF
	out, err = s.BufferTest(protocol.BufferOpVerify, pattern, []TestBuffer{buf})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if out.Status != protocol.BufferStatusVerifyFailed {
		t.Errorf("verify status %v, expected verify failed", out.Status)
	}
}

func TestSessionPerfTest(t *testing.T) {
	s, _ := startTestHost(t, 1<<20, nil)

	out, err := s.PerfTest(protocol.PerfLatency, 5, 4096)
	if err != nil {
		t.Fatalf("PerfTest failed: %v", err)
	}
	if out.IterationsCompleted != 5 {
		t.Errorf("iterations %v, expected 5", out.IterationsCompleted)
	}
	if out.MinLatencyNs == 0 {
		t.Error("min latency is zero")
	}
}

// slowExecutor stalls every request longer than the session timeout.
type slowExecutor struct {
	inner types.Executor
	delay time.Duration
}

func (s *slowExecutor) Execute(req *protocol.Message, payloads [][]byte) (*protocol.Message, [][]byte, error) {
	time.Sleep(s.delay)
	return s.inner.Execute(req, payloads)
}

func TestSessionTimeout(t *testing.T) {
	dir := t.TempDir()
	region, err := shm.Create(filepath.Join(dir, "region"), 64*1024, 64*1024)
	if err != nil {
		t.Fatalf("create region: %v", err)
	}
	defer region.Close()

	exec := &slowExecutor{inner: api.NewExecutor(order, region, nil), delay: 500 * time.Millisecond}
	guestEnd, hostEnd := net.Pipe()
	server := rpc.NewServer(rpc.NewWire(hostEnd, protocol.NewNativeCodec()), exec)
	go server.Handle()

	s := NewSession(guestEnd, protocol.NewNativeCodec(), nil, nil, 100*time.Millisecond)
	defer s.Close()

	if _, err := s.Echo([]byte("too slow")); err != rpc.ErrRequestTimeout {
		t.Fatalf("Echo => %v, expected %v", err, rpc.ErrRequestTimeout)
	}
}
