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

// Package transport picks how one buffer crosses the boundary and moves
// chunked payloads over byte-stream channels.
package transport

import (
	"io"

	"github.com/hostcall/hostcall/protocol"
)

// Strategy names one way a buffer crosses the boundary.
type Strategy int

const (
	// StreamChunks sends the payload over the channel in fixed chunks
	// right after the message. Always available.
	StreamChunks Strategy = iota
	// SharedRegionCopy stages the payload in the shared region and sends
	// only an offset. Requires the payload to fit the region area.
	SharedRegionCopy
	// ZeroCopyMap sends a pinned arena descriptor; no bytes move at all.
	// Requires the buffer to live in the shared arena.
	ZeroCopyMap
)

func (s Strategy) String() string {
	switch s {
	case SharedRegionCopy:
		return "region"
	case ZeroCopyMap:
		return "zerocopy"
	default:
		return "stream"
	}
}

// ChunkSize is the unit payloads are streamed in.
const ChunkSize = 64 * 1024

// Select picks the cheapest strategy for a buffer. Preference order:
// zero-copy when the buffer already lives in a mapped arena, region copy
// when the payload fits the region area, streaming otherwise. Streaming is
// the fallback that always works, so Select never fails.
func Select(size uint64, regionCapacity uint32, inArena bool) Strategy {
	if size > protocol.MaxBufferSize {
		// Oversized buffers are rejected later by descriptor
		// validation; pick the fallback so the error surfaces there.
		return StreamChunks
	}
	if inArena {
		return ZeroCopyMap
	}
	if regionCapacity > 0 && size <= uint64(regionCapacity) {
		return SharedRegionCopy
	}
	return StreamChunks
}

// WriteChunked writes data to w in ChunkSize units. The receiver knows the
// total from the descriptor, so no framing is added per chunk.
func WriteChunked(w io.Writer, data []byte) (int, error) {
	total := 0
	for len(data) > 0 {
		n := len(data)
		if n > ChunkSize {
			n = ChunkSize
		}
		written, err := w.Write(data[:n])
		total += written
		if err != nil {
			return total, err
		}
		data = data[n:]
	}
	return total, nil
}

// ReadExact reads exactly n bytes from r.
func ReadExact(r io.Reader, n int) ([]byte, error) {
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
