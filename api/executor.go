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

// Package api implements the host side of the remoted calls: echo, the
// buffer transfer exercise and the performance probe. The executor only
// sees decoded messages; which transport carried a buffer shows in its
// descriptor, not in the call path.
package api

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/hostcall/hostcall/protocol"
	"github.com/hostcall/hostcall/shm"
	"github.com/hostcall/hostcall/transfer"
	"github.com/sirupsen/logrus"
)

// EchoPrefix is prepended to every echoed payload.
const EchoPrefix = "Echo: "

// crc32c, folded across buffers with xor so the combined checksum is
// order-insensitive the way the wire format promises.
var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum computes the per-buffer checksum.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Executor dispatches requests by API id. Region and arena may be nil when
// the corresponding transport is not wired; descriptors that need them
// fail with a map error instead.
type Executor struct {
	order  binary.ByteOrder
	region *shm.Region
	arena  *transfer.Arena
}

func NewExecutor(order binary.ByteOrder, region *shm.Region, arena *transfer.Arena) *Executor {
	return &Executor{order: order, region: region, arena: arena}
}

// Execute runs one request. A returned error means the request could not
// run at all; API-level failures come back as error responses with a code.
func (e *Executor) Execute(req *protocol.Message, payloads [][]byte) (*protocol.Message, [][]byte, error) {
	switch req.Header.API {
	case protocol.APIEcho:
		return e.echo(req)
	case protocol.APIBufferTest:
		return e.bufferTest(req, payloads)
	case protocol.APIPerfTest:
		return e.perfTest(req)
	default:
		logrus.Errorf("Unknown API %v in request %v", req.Header.API, req.Header.RequestID)
		return errorResponse(req, protocol.ErrCodeInvalidAPI, "unknown API identifier"), nil, nil
	}
}

func (e *Executor) echo(req *protocol.Message) (*protocol.Message, [][]byte, error) {
	var in protocol.EchoRequest
	if err := in.Unmarshal(req.InlineBytes(), e.order); err != nil {
		return errorResponse(req, protocol.ErrCodeInvalidParm, err.Error()), nil, nil
	}

	out := protocol.EchoResponse{
		Output: append([]byte(EchoPrefix), in.Input...),
	}
	inline, err := out.Marshal(e.order)
	if err != nil {
		return errorResponse(req, protocol.ErrCodeInvalidParm, err.Error()), nil, nil
	}

	resp := protocol.NewResponse(req)
	if err := resp.SetInline(inline); err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

// view is one resolved buffer plus how to hand results back.
type view struct {
	data    []byte
	release func()
}

func (e *Executor) bufferTest(req *protocol.Message, payloads [][]byte) (*protocol.Message, [][]byte, error) {
	var in protocol.BufferTestRequest
	if err := in.Unmarshal(req.InlineBytes(), e.order); err != nil {
		return errorResponse(req, protocol.ErrCodeInvalidParm, err.Error()), nil, nil
	}

	resp := protocol.NewResponse(req)
	out := protocol.BufferTestResponse{Status: protocol.BufferStatusOK}
	var respPayloads [][]byte

	streamIdx := 0
	for slot, desc := range req.Descriptors() {
		if desc.Size > protocol.MaxBufferSize {
			return errorResponse(req, protocol.ErrCodeBufTooLarge, transfer.ErrSizeExceedsLimit.Error()), nil, nil
		}

		v, err := e.resolve(desc, payloads, &streamIdx, in.Operation)
		if err != nil {
			logrus.Errorf("Failed to resolve descriptor %v of request %v: %v", slot, req.Header.RequestID, err)
			return errorResponse(req, resolveCode(err), err.Error()), nil, nil
		}

		switch in.Operation {
		case protocol.BufferOpRead:
			out.Checksum ^= Checksum(v.data)
		case protocol.BufferOpWrite:
			fillPattern(v.data, in.Pattern, e.order)
			out.Checksum ^= Checksum(v.data)
		case protocol.BufferOpVerify:
			if !verifyPattern(v.data, in.Pattern, e.order) {
				out.Status = protocol.BufferStatusVerifyFailed
			}
			out.Checksum ^= Checksum(v.data)
		}
		out.BytesProcessed += uint64(len(v.data))

		// Write results travel back the way the buffer came in.
		if in.Operation == protocol.BufferOpWrite {
			d := desc
			switch desc.LocationKind() {
			case protocol.LocStream:
				respPayloads = append(respPayloads, v.data)
				resp.Header.Flags |= protocol.FlagStreamed
			case protocol.LocRegion:
				if err := e.region.WriteBytes(shm.ResponseArea, desc.Location, v.data); err != nil {
					v.release()
					return errorResponse(req, protocol.ErrCodeMapFailed, err.Error()), nil, nil
				}
			case protocol.LocArena:
				// Written in place; the guest sees it through its
				// own mapping.
			}
			resp.Buffers[resp.Header.BufferCount] = d
			resp.Header.BufferCount++
		}
		v.release()
	}

	if e.region != nil {
		e.region.AddRequest()
	}

	inline, err := out.Marshal(e.order)
	if err != nil {
		return nil, nil, err
	}
	if err := resp.SetInline(inline); err != nil {
		return nil, nil, err
	}
	return resp, respPayloads, nil
}

// resolve materializes one descriptor into host-visible bytes. Stream
// buffers for write operations get fresh backing because no request bytes
// arrived for them.
func (e *Executor) resolve(desc protocol.BufferDescriptor, payloads [][]byte, streamIdx *int, op uint32) (*view, error) {
	switch desc.LocationKind() {
	case protocol.LocStream:
		// Write-direction stream buffers carry no request bytes; the
		// fill result streams back with the response instead.
		if desc.Access()&protocol.AccessRead == 0 {
			return &view{data: make([]byte, desc.Size), release: func() {}}, nil
		}
		if *streamIdx >= len(payloads) {
			return nil, protocol.ErrTruncated
		}
		data := payloads[*streamIdx]
		*streamIdx++
		return &view{data: data, release: func() {}}, nil

	case protocol.LocRegion:
		if e.region == nil {
			return nil, transfer.ErrMapFailed
		}
		if op == protocol.BufferOpWrite {
			// Staged into the response area after the fill.
			capacity := uint64(e.region.AreaSize(shm.ResponseArea))
			if desc.Location > capacity || uint64(desc.Size) > capacity-desc.Location {
				return nil, shm.ErrOutOfBounds
			}
			return &view{data: make([]byte, desc.Size), release: func() {}}, nil
		}
		data, err := e.region.ReadBytes(shm.RequestArea, desc.Location, desc.Size)
		if err != nil {
			return nil, err
		}
		return &view{data: data, release: func() {}}, nil

	case protocol.LocArena:
		if e.arena == nil {
			return nil, transfer.ErrMapFailed
		}
		m, err := e.arena.Resolve(desc)
		if err != nil {
			return nil, err
		}
		return &view{data: m.Bytes(), release: func() { m.Close() }}, nil
	}
	return nil, protocol.ErrTooManyBuffers
}

func resolveCode(err error) int32 {
	switch err {
	case transfer.ErrSizeExceedsLimit:
		return protocol.ErrCodeBufTooLarge
	case protocol.ErrTruncated, protocol.ErrTooManyBuffers:
		return protocol.ErrCodeInvalidParm
	default:
		return protocol.ErrCodeMapFailed
	}
}

// fillPattern writes the 32-bit pattern repeatedly; a trailing partial word
// gets the pattern's leading bytes.
func fillPattern(data []byte, pattern uint32, order binary.ByteOrder) {
	var word [4]byte
	order.PutUint32(word[:], pattern)
	for i := range data {
		data[i] = word[i%4]
	}
}

func verifyPattern(data []byte, pattern uint32, order binary.ByteOrder) bool {
	var word [4]byte
	order.PutUint32(word[:], pattern)
	for i := 0; i+4 <= len(data); i += 4 {
		if !bytes.Equal(data[i:i+4], word[:]) {
			return false
		}
	}
	for i := len(data) &^ 3; i < len(data); i++ {
		if data[i] != word[i%4] {
			return false
		}
	}
	return true
}

func (e *Executor) perfTest(req *protocol.Message) (*protocol.Message, [][]byte, error) {
	var in protocol.PerfTestRequest
	if err := in.Unmarshal(req.InlineBytes(), e.order); err != nil {
		return errorResponse(req, protocol.ErrCodeInvalidParm, err.Error()), nil, nil
	}
	if in.Iterations == 0 {
		return errorResponse(req, protocol.ErrCodeInvalidParm, "iterations must be positive"), nil, nil
	}

	size := in.TargetBytes
	if size == 0 {
		size = 4096
	}
	if size > protocol.MaxBufferSize {
		return errorResponse(req, protocol.ErrCodeBufTooLarge, transfer.ErrSizeExceedsLimit.Error()), nil, nil
	}

	buf := make([]byte, size)
	out := protocol.PerfTestResponse{MinLatencyNs: ^uint64(0)}
	var totalNs uint64

	for i := uint32(0); i < in.Iterations; i++ {
		start := time.Now()
		fillPattern(buf, uint32(i), e.order)
		Checksum(buf)
		elapsed := uint64(time.Since(start).Nanoseconds())
		if elapsed == 0 {
			elapsed = 1
		}
		if elapsed < out.MinLatencyNs {
			out.MinLatencyNs = elapsed
		}
		if elapsed > out.MaxLatencyNs {
			out.MaxLatencyNs = elapsed
		}
		totalNs += elapsed
		out.IterationsCompleted++
	}
	out.AvgLatencyNs = totalNs / uint64(out.IterationsCompleted)

	if in.TestType == protocol.PerfThroughput {
		totalBytes := size * uint64(out.IterationsCompleted)
		seconds := float64(totalNs) / float64(time.Second)
		if seconds > 0 {
			out.ThroughputMBps = uint64(float64(totalBytes) / (1024 * 1024) / seconds)
		}
	}

	inline, err := out.Marshal(e.order)
	if err != nil {
		return nil, nil, err
	}
	resp := protocol.NewResponse(req)
	if err := resp.SetInline(inline); err != nil {
		return nil, nil, err
	}
	return resp, nil, nil
}

func errorResponse(req *protocol.Message, code int32, reason string) *protocol.Message {
	resp := protocol.NewResponse(req)
	resp.Header.Kind = protocol.KindError
	resp.Header.ErrorCode = code
	data := []byte(reason)
	if len(data) > protocol.MaxInlineData {
		data = data[:protocol.MaxInlineData]
	}
	resp.SetInline(data)
	return resp
}
