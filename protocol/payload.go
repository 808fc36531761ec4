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

package protocol

import (
	"encoding/binary"
	"errors"
)

// Buffer test operations.
const (
	BufferOpRead   = uint32(1)
	BufferOpWrite  = uint32(2)
	BufferOpVerify = uint32(3)
)

// Buffer test statuses.
const (
	BufferStatusOK           = uint32(0)
	BufferStatusVerifyFailed = uint32(1)
)

// Performance test types.
const (
	PerfLatency    = uint32(1)
	PerfThroughput = uint32(2)
)

// MaxEchoData is the largest echo payload that fits the inline area next to
// its length prefix.
const MaxEchoData = MaxInlineData - 4

var errPayloadTooShort = errors.New("inline payload too short for schema")

// EchoRequest is the typed inline payload of APIEcho requests.
type EchoRequest struct {
	Input []byte
}

// Marshal encodes the request in the codec's byte order.
func (e *EchoRequest) Marshal(order binary.ByteOrder) ([]byte, error) {
	if len(e.Input) > MaxEchoData {
		return nil, ErrInlineOverflow
	}
	p := make([]byte, 4+len(e.Input))
	order.PutUint32(p[0:4], uint32(len(e.Input)))
	copy(p[4:], e.Input)
	return p, nil
}

// Unmarshal validates and decodes the request.
func (e *EchoRequest) Unmarshal(p []byte, order binary.ByteOrder) error {
	if len(p) < 4 {
		return errPayloadTooShort
	}
	n := order.Uint32(p[0:4])
	if int(n) > len(p)-4 || n > MaxEchoData {
		return ErrInlineOverflow
	}
	e.Input = append([]byte(nil), p[4:4+n]...)
	return nil
}

// EchoResponse is the typed inline payload of APIEcho responses.
type EchoResponse struct {
	Output []byte
}

func (e *EchoResponse) Marshal(order binary.ByteOrder) ([]byte, error) {
	if len(e.Output) > MaxEchoData {
		return nil, ErrInlineOverflow
	}
	p := make([]byte, 4+len(e.Output))
	order.PutUint32(p[0:4], uint32(len(e.Output)))
	copy(p[4:], e.Output)
	return p, nil
}

func (e *EchoResponse) Unmarshal(p []byte, order binary.ByteOrder) error {
	if len(p) < 4 {
		return errPayloadTooShort
	}
	n := order.Uint32(p[0:4])
	if int(n) > len(p)-4 || n > MaxEchoData {
		return ErrInlineOverflow
	}
	e.Output = append([]byte(nil), p[4:4+n]...)
	return nil
}

// BufferTestRequest is the typed inline payload of APIBufferTest requests.
// The pattern is a fixed unsigned 32-bit word on the wire.
type BufferTestRequest struct {
	Pattern   uint32
	Operation uint32
}

func (b *BufferTestRequest) Marshal(order binary.ByteOrder) ([]byte, error) {
	p := make([]byte, 8)
	order.PutUint32(p[0:4], b.Pattern)
	order.PutUint32(p[4:8], b.Operation)
	return p, nil
}

func (b *BufferTestRequest) Unmarshal(p []byte, order binary.ByteOrder) error {
	if len(p) < 8 {
		return errPayloadTooShort
	}
	b.Pattern = order.Uint32(p[0:4])
	b.Operation = order.Uint32(p[4:8])
	if b.Operation < BufferOpRead || b.Operation > BufferOpVerify {
		return errors.New("unknown buffer test operation")
	}
	return nil
}

// BufferTestResponse is the typed inline payload of APIBufferTest responses.
type BufferTestResponse struct {
	BytesProcessed uint64
	Checksum       uint32
	Status         uint32
}

func (b *BufferTestResponse) Marshal(order binary.ByteOrder) ([]byte, error) {
	p := make([]byte, 16)
	order.PutUint64(p[0:8], b.BytesProcessed)
	order.PutUint32(p[8:12], b.Checksum)
	order.PutUint32(p[12:16], b.Status)
	return p, nil
}

func (b *BufferTestResponse) Unmarshal(p []byte, order binary.ByteOrder) error {
	if len(p) < 16 {
		return errPayloadTooShort
	}
	b.BytesProcessed = order.Uint64(p[0:8])
	b.Checksum = order.Uint32(p[8:12])
	b.Status = order.Uint32(p[12:16])
	return nil
}

// PerfTestRequest is the typed inline payload of APIPerfTest requests.
type PerfTestRequest struct {
	TestType    uint32
	Iterations  uint32
	TargetBytes uint64
}

func (r *PerfTestRequest) Marshal(order binary.ByteOrder) ([]byte, error) {
	p := make([]byte, 16)
	order.PutUint32(p[0:4], r.TestType)
	order.PutUint32(p[4:8], r.Iterations)
	order.PutUint64(p[8:16], r.TargetBytes)
	return p, nil
}

func (r *PerfTestRequest) Unmarshal(p []byte, order binary.ByteOrder) error {
	if len(p) < 16 {
		return errPayloadTooShort
	}
	r.TestType = order.Uint32(p[0:4])
	r.Iterations = order.Uint32(p[4:8])
	r.TargetBytes = order.Uint64(p[8:16])
	if r.TestType != PerfLatency && r.TestType != PerfThroughput {
		return errors.New("unknown performance test type")
	}
	return nil
}

// PerfTestResponse is the typed inline payload of APIPerfTest responses.
type PerfTestResponse struct {
	MinLatencyNs        uint64
	MaxLatencyNs        uint64
	AvgLatencyNs        uint64
	ThroughputMBps      uint64
	IterationsCompleted uint32
}

func (r *PerfTestResponse) Marshal(order binary.ByteOrder) ([]byte, error) {
	p := make([]byte, 36)
	order.PutUint64(p[0:8], r.MinLatencyNs)
	order.PutUint64(p[8:16], r.MaxLatencyNs)
	order.PutUint64(p[16:24], r.AvgLatencyNs)
	order.PutUint64(p[24:32], r.ThroughputMBps)
	order.PutUint32(p[32:36], r.IterationsCompleted)
	return p, nil
}

func (r *PerfTestResponse) Unmarshal(p []byte, order binary.ByteOrder) error {
	if len(p) < 36 {
		return errPayloadTooShort
	}
	r.MinLatencyNs = order.Uint64(p[0:8])
	r.MaxLatencyNs = order.Uint64(p[8:16])
	r.AvgLatencyNs = order.Uint64(p[16:24])
	r.ThroughputMBps = order.Uint64(p[24:32])
	r.IterationsCompleted = order.Uint32(p[32:36])
	return nil
}
