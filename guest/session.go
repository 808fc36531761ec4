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

// Package guest is the calling side: it owns a correlation client over one
// channel and turns typed calls into wire messages, picking per buffer how
// the bytes cross the boundary.
package guest

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hostcall/hostcall/protocol"
	"github.com/hostcall/hostcall/rpc"
	"github.com/hostcall/hostcall/shm"
	"github.com/hostcall/hostcall/transfer"
	"github.com/hostcall/hostcall/transport"
	"github.com/hostcall/hostcall/types"
	"github.com/sirupsen/logrus"
)

var (
	// ErrTooManyBuffers means the call names more buffers than a message
	// can carry.
	ErrTooManyBuffers = errors.New("too many buffers for one request")
	// ErrNoArena means an arena buffer was passed without a mapped arena.
	ErrNoArena = errors.New("session has no arena mapped")
)

// TestBuffer is one buffer participating in a buffer test call. Either
// Data carries the bytes, or Arena names a buffer allocated from the
// session's arena for the zero-copy path.
type TestBuffer struct {
	Data  []byte
	Arena *transfer.Buffer
}

func (b TestBuffer) size() uint64 {
	if b.Arena != nil {
		return uint64(b.Arena.Size())
	}
	return uint64(len(b.Data))
}

// Session is one guest endpoint. Safe for concurrent calls; region-staged
// transfers serialize on the region because both peers address area
// offsets per request.
type Session struct {
	client *rpc.Client
	codec  *protocol.Codec
	region *shm.Region
	arena  *transfer.Arena

	regionMu sync.Mutex
}

// NewSession wires a session over an established channel. Region and arena
// may be nil; the matching strategies simply stay unavailable.
func NewSession(channel types.Channel, codec *protocol.Codec, region *shm.Region, arena *transfer.Arena, timeout time.Duration) *Session {
	wire := rpc.NewWire(channel, codec)
	return &Session{
		client: rpc.NewClient(wire, "host", timeout),
		codec:  codec,
		region: region,
		arena:  arena,
	}
}

// Dial connects to the host over TCP and optionally maps its region and
// arena files.
func Dial(addr, regionPath, arenaPath string, timeout time.Duration) (*Session, error) {
	var (
		region *shm.Region
		arena  *transfer.Arena
		err    error
	)
	if regionPath != "" {
		region, err = shm.Open(regionPath)
		if err != nil {
			return nil, err
		}
	}
	if arenaPath != "" {
		arena, err = transfer.Open(arenaPath)
		if err != nil {
			if region != nil {
				region.Close()
			}
			return nil, err
		}
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		if region != nil {
			region.Close()
		}
		if arena != nil {
			arena.Close()
		}
		return nil, fmt.Errorf("failed to dial host %s: %v", addr, err)
	}
	logrus.Infof("Connected to host %s", addr)

	wire := rpc.NewWire(conn, protocol.NewSocketCodec())
	return &Session{
		client: rpc.NewClient(wire, conn.RemoteAddr().String(), timeout),
		codec:  protocol.NewSocketCodec(),
		region: region,
		arena:  arena,
	}, nil
}

// AllocBuffer carves a zero-copy buffer out of the session arena.
func (s *Session) AllocBuffer(size uint32) (*transfer.Buffer, error) {
	if s.arena == nil {
		return nil, ErrNoArena
	}
	return s.arena.Alloc(size)
}

// Echo round-trips data through the host and returns the echoed bytes.
func (s *Session) Echo(input []byte) ([]byte, error) {
	in := protocol.EchoRequest{Input: input}
	inline, err := in.Marshal(s.codec.Order())
	if err != nil {
		return nil, err
	}

	req := protocol.NewRequest(protocol.APIEcho)
	if err := req.SetInline(inline); err != nil {
		return nil, err
	}

	resp, _, err := s.client.Do(req, nil)
	if err != nil {
		return nil, err
	}

	var out protocol.EchoResponse
	if err := out.Unmarshal(resp.InlineBytes(), s.codec.Order()); err != nil {
		return nil, err
	}
	return out.Output, nil
}

// BufferTest runs one buffer operation across up to protocol.MaxBuffers
// buffers. Each buffer crosses the boundary by the cheapest strategy it
// qualifies for. Write results land back in the caller's buffers.
func (s *Session) BufferTest(op, pattern uint32, bufs []TestBuffer) (*protocol.BufferTestResponse, error) {
	if len(bufs) > protocol.MaxBuffers {
		return nil, ErrTooManyBuffers
	}

	in := protocol.BufferTestRequest{Pattern: pattern, Operation: op}
	inline, err := in.Marshal(s.codec.Order())
	if err != nil {
		return nil, err
	}

	req := protocol.NewRequest(protocol.APIBufferTest)
	if err := req.SetInline(inline); err != nil {
		return nil, err
	}

	access := protocol.AccessRead
	if op == protocol.BufferOpWrite {
		access = protocol.AccessWrite
	}

	var (
		payloads   [][]byte
		pinned     []protocol.BufferDescriptor
		strategies = make([]transport.Strategy, len(bufs))
		regionUsed bool
	)
	defer func() {
		for _, d := range pinned {
			if err := s.arena.Unpin(d); err != nil {
				logrus.Errorf("Failed to unpin arena buffer at %v: %v", d.Location, err)
			}
		}
		if regionUsed {
			s.regionMu.Unlock()
		}
	}()

	var regionCap uint32
	if s.region != nil {
		regionCap = s.region.AreaSize(shm.RequestArea)
	}

	regionNext := uint64(0)
	for i, b := range bufs {
		if b.size() > protocol.MaxBufferSize {
			return nil, transfer.ErrSizeExceedsLimit
		}
		strategies[i] = transport.Select(b.size(), regionCap, b.Arena != nil)
		desc := protocol.BufferDescriptor{Size: uint32(b.size())}

		switch strategies[i] {
		case transport.ZeroCopyMap:
			if s.arena == nil {
				return nil, ErrNoArena
			}
			d, err := s.arena.Pin(b.Arena, access)
			if err != nil {
				return nil, err
			}
			pinned = append(pinned, d)
			desc = d

		case transport.SharedRegionCopy:
			if !regionUsed {
				s.regionMu.Lock()
				regionUsed = true
			}
			if regionNext+b.size() > uint64(regionCap) {
				// Remaining region space is short; stream instead.
				strategies[i] = transport.StreamChunks
				desc.Flags = access | protocol.LocStream
				if access&protocol.AccessRead != 0 {
					payloads = append(payloads, b.Data)
				}
				break
			}
			if op != protocol.BufferOpWrite {
				if err := s.region.WriteBytes(shm.RequestArea, regionNext, b.Data); err != nil {
					return nil, err
				}
			}
			desc.Location = regionNext
			desc.Flags = access | protocol.LocRegion
			regionNext += b.size()

		default:
			desc.Flags = access | protocol.LocStream
			if access&protocol.AccessRead != 0 {
				payloads = append(payloads, b.Data)
			}
		}

		if strategies[i] == transport.StreamChunks {
			req.Header.Flags |= protocol.FlagStreamed
		}
		req.Buffers[i] = desc
		req.Header.BufferCount++
	}

	resp, respPayloads, err := s.client.Do(req, payloads)
	if err != nil {
		return nil, err
	}

	// Bring write results home the way each buffer traveled.
	if op == protocol.BufferOpWrite {
		streamIdx := 0
		for i, b := range bufs {
			switch strategies[i] {
			case transport.StreamChunks:
				if streamIdx < len(respPayloads) {
					copy(b.Data, respPayloads[streamIdx])
					streamIdx++
				}
			case transport.SharedRegionCopy:
				data, err := s.region.ReadBytes(shm.ResponseArea, req.Buffers[i].Location, req.Buffers[i].Size)
				if err != nil {
					return nil, err
				}
				copy(b.Data, data)
			case transport.ZeroCopyMap:
				// Host wrote through the shared pages.
			}
		}
	}

	var out protocol.BufferTestResponse
	if err := out.Unmarshal(resp.InlineBytes(), s.codec.Order()); err != nil {
		return nil, err
	}
	return &out, nil
}

// PerfTest asks the host to run a performance probe and returns its
// measurements.
func (s *Session) PerfTest(testType, iterations uint32, targetBytes uint64) (*protocol.PerfTestResponse, error) {
	in := protocol.PerfTestRequest{TestType: testType, Iterations: iterations, TargetBytes: targetBytes}
	inline, err := in.Marshal(s.codec.Order())
	if err != nil {
		return nil, err
	}

	req := protocol.NewRequest(protocol.APIPerfTest)
	if err := req.SetInline(inline); err != nil {
		return nil, err
	}

	resp, _, err := s.client.Do(req, nil)
	if err != nil {
		return nil, err
	}

	var out protocol.PerfTestResponse
	if err := out.Unmarshal(resp.InlineBytes(), s.codec.Order()); err != nil {
		return nil, err
	}
	return &out, nil
}

// Timeout returns the per-request timeout in force.
func (s *Session) Timeout() time.Duration {
	return s.client.Timeout()
}

// Close tears down the channel and unmaps any shared memory.
func (s *Session) Close() error {
	err := s.client.Close()
	if s.arena != nil {
		if aerr := s.arena.Close(); err == nil {
			err = aerr
		}
	}
	if s.region != nil {
		if rerr := s.region.Close(); err == nil {
			err = rerr
		}
	}
	return err
}
