package rpc

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hostcall/hostcall/protocol"
)

// testResponder pumps the host end of a pipe with a custom per-request
// reply policy.
func testResponder(t *testing.T, conn net.Conn, handle func(w *Wire, req *protocol.Message, payloads [][]byte) bool) {
	t.Helper()
	w := NewWire(conn, protocol.NewNativeCodec())
	go func() {
		for {
			req, payloads, err := w.Receive()
			if err != nil {
				return
			}
			if !handle(w, req, payloads) {
				return
			}
		}
	}()
}

func echoReply(w *Wire, req *protocol.Message) error {
	resp := protocol.NewResponse(req)
	if err := resp.SetInline(req.InlineBytes()); err != nil {
		return err
	}
	return w.Transmit(resp, nil)
}

func TestConcurrentCorrelation(t *testing.T) {
	const workers = 32
	guest, host := net.Pipe()

	// Hold all requests, then answer in reverse arrival order. Callers
	// must still each get their own response.
	var (
		mu      sync.Mutex
		pending []*protocol.Message
	)
	testResponder(t, host, func(w *Wire, req *protocol.Message, _ [][]byte) bool {
		mu.Lock()
		pending = append(pending, req)
		ready := len(pending) == workers
		var batch []*protocol.Message
		if ready {
			batch = pending
			pending = nil
		}
		mu.Unlock()
		if ready {
			for i := len(batch) - 1; i >= 0; i-- {
				if err := echoReply(w, batch[i]); err != nil {
					return false
				}
			}
		}
		return true
	})

	c := NewClient(NewWire(guest, protocol.NewNativeCodec()), "test", 5*time.Second)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := []byte(fmt.Sprintf("payload-%d", i))
			req := protocol.NewRequest(protocol.APIEcho)
			if err := req.SetInline(want); err != nil {
				errs <- err
				return
			}
			resp, _, err := c.Do(req, nil)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(resp.InlineBytes(), want) {
				errs <- fmt.Errorf("worker %d got %q, expected %q", i, resp.InlineBytes(), want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRequestTimeoutAndLateResponse(t *testing.T) {
	guest, host := net.Pipe()

	first := true
	testResponder(t, host, func(w *Wire, req *protocol.Message, _ [][]byte) bool {
		if first {
			first = false
			go func(req *protocol.Message) {
				// Reply well after the caller has given up.
				time.Sleep(300 * time.Millisecond)
				echoReply(w, req)
			}(req)
			return true
		}
		return echoReply(w, req) == nil
	})

	c := NewClient(NewWire(guest, protocol.NewNativeCodec()), "test", 100*time.Millisecond)
	defer c.Close()

	req := protocol.NewRequest(protocol.APIEcho)
	req.SetInline([]byte("slow"))
	if _, _, err := c.Do(req, nil); err != ErrRequestTimeout {
		t.Fatalf("Do => %v, expected %v", err, ErrRequestTimeout)
	}

	// Let the late response arrive; it must be discarded, not delivered.
	time.Sleep(400 * time.Millisecond)

	req = protocol.NewRequest(protocol.APIEcho)
	req.SetInline([]byte("fast"))
	resp, _, err := c.Do(req, nil)
	if err != nil {
		t.Fatalf("Do after abandoned request failed: %v", err)
	}
	if !bytes.Equal(resp.InlineBytes(), []byte("fast")) {
		t.Errorf("got %q, expected %q", resp.InlineBytes(), "fast")
	}
}

func TestTransportErrorBroadcast(t *testing.T) {
	const workers = 8
	guest, host := net.Pipe()

	// Swallow all requests, then cut the channel once everything is in
	// flight.
	var seen int
	var mu sync.Mutex
	testResponder(t, host, func(w *Wire, req *protocol.Message, _ [][]byte) bool {
		mu.Lock()
		seen++
		done := seen == workers
		mu.Unlock()
		if done {
			host.Close()
			return false
		}
		return true
	})

	c := NewClient(NewWire(guest, protocol.NewNativeCodec()), "test", 10*time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := protocol.NewRequest(protocol.APIEcho)
			req.SetInline([]byte("doomed"))
			_, _, err := c.Do(req, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err == nil {
			t.Error("in-flight request succeeded after transport teardown")
		}
		if err == ErrRequestTimeout {
			t.Error("in-flight request timed out instead of failing fast")
		}
	}
	if c.Err() == nil {
		t.Error("client error not recorded after transport teardown")
	}
}

func TestErrorResponseMapping(t *testing.T) {
	guest, host := net.Pipe()

	testResponder(t, host, func(w *Wire, req *protocol.Message, _ [][]byte) bool {
		resp := protocol.NewResponse(req)
		resp.Header.Kind = protocol.KindError
		resp.Header.ErrorCode = protocol.ErrCodeInvalidAPI
		resp.SetInline([]byte("unknown API identifier"))
		return w.Transmit(resp, nil) == nil
	})

	c := NewClient(NewWire(guest, protocol.NewNativeCodec()), "test", time.Second)
	defer c.Close()

	req := protocol.NewRequest(99)
	_, _, err := c.Do(req, nil)
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("Do => %T(%v), expected *APIError", err, err)
	}
	if apiErr.Code != protocol.ErrCodeInvalidAPI {
		t.Errorf("error code %v, expected %v", apiErr.Code, protocol.ErrCodeInvalidAPI)
	}
}

func TestWireStreamedPayloads(t *testing.T) {
	guest, host := net.Pipe()

	// Host pump verifies the streamed payload and sends one back.
	testResponder(t, host, func(w *Wire, req *protocol.Message, payloads [][]byte) bool {
		if len(payloads) != 1 || len(payloads[0]) != 200*1024 {
			return false
		}
		resp := protocol.NewResponse(req)
		resp.Buffers[0] = protocol.BufferDescriptor{
			Size:  uint32(len(payloads[0])),
			Flags: protocol.AccessWrite | protocol.LocStream,
		}
		resp.Header.BufferCount = 1
		return w.Transmit(resp, [][]byte{payloads[0]}) == nil
	})

	c := NewClient(NewWire(guest, protocol.NewNativeCodec()), "test", 5*time.Second)
	defer c.Close()

	payload := make([]byte, 200*1024)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	req := protocol.NewRequest(protocol.APIBufferTest)
	req.Buffers[0] = protocol.BufferDescriptor{
		Size:  uint32(len(payload)),
		Flags: protocol.AccessRead | protocol.LocStream,
	}
	req.Header.BufferCount = 1

	resp, respPayloads, err := c.Do(req, [][]byte{payload})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if resp.Header.RequestID != req.Header.RequestID {
		t.Errorf("response id %v, expected %v", resp.Header.RequestID, req.Header.RequestID)
	}
	if len(respPayloads) != 1 || !bytes.Equal(respPayloads[0], payload) {
		t.Error("streamed payload did not round trip")
	}
}
