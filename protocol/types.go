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

// Package protocol defines the fixed-layout wire message exchanged between
// the guest and the host and the codecs that move it on and off the wire.
package protocol

const (
	// MessageMagic stamps every message header.
	MessageMagic = uint32(0xCAFEBABE)
	// Version is the protocol version this codec speaks.
	Version = uint32(1)

	// HeaderSize is the fixed header size in bytes.
	HeaderSize = 64
	// MaxBuffers is the number of descriptor slots in every message.
	MaxBuffers = 8
	// MaxInlineData is the capacity of the inline payload area.
	MaxInlineData = 3072
	// DescriptorSize is the encoded size of one buffer descriptor.
	DescriptorSize = 16
	// MessageSize is the constant total size of an encoded message.
	MessageSize = HeaderSize + MaxBuffers*DescriptorSize + MaxInlineData

	// MaxBufferSize is the largest buffer a single descriptor may reference.
	MaxBufferSize = 64 * 1024 * 1024
)

// Message kinds.
const (
	KindRequest  = uint32(1)
	KindResponse = uint32(2)
	KindError    = uint32(3)
)

// API identifiers.
const (
	APIEcho       = uint32(1)
	APIBufferTest = uint32(2)
	APIPerfTest   = uint32(3)
)

// Error codes carried in the header. Zero is success.
const (
	OK                 = int32(0)
	ErrCodeInvalidAPI  = int32(-1)
	ErrCodeInvalidParm = int32(-2)
	ErrCodeMapFailed   = int32(-3)
	ErrCodeBufTooLarge = int32(-4)
	ErrCodeUnknown     = int32(-99)
)

// Message flags.
const (
	FlagSync     = uint32(0x1)
	FlagAsync    = uint32(0x2)
	FlagStreamed = uint32(0x4)
)

// Buffer descriptor access flags (low nibble) and location kinds (high
// nibble). A descriptor either names an offset into the shared arena, an
// offset into a shared-region area, or a payload streamed on the channel
// right after the message.
const (
	AccessRead      = uint32(0x1)
	AccessWrite     = uint32(0x2)
	AccessReadWrite = AccessRead | AccessWrite

	LocArena  = uint32(0x10)
	LocRegion = uint32(0x20)
	LocStream = uint32(0x40)
)

// Header is the fixed 64-byte message header.
type Header struct {
	Magic       uint32
	Version     uint32
	Kind        uint32
	API         uint32
	RequestID   uint64
	BufferCount uint32
	InlineSize  uint32
	ErrorCode   int32
	Flags       uint32
	Timestamp   uint64
	Reserved    [4]uint32
}

// BufferDescriptor locates one buffer involved in a request. It never owns
// the memory it names.
type BufferDescriptor struct {
	Location uint64
	Size     uint32
	Flags    uint32
}

// Access returns the access bits of the descriptor flags.
func (d BufferDescriptor) Access() uint32 {
	return d.Flags & 0xF
}

// LocationKind returns the location bits of the descriptor flags.
func (d BufferDescriptor) LocationKind() uint32 {
	return d.Flags & 0xF0
}

// Message is the complete fixed-size protocol message. Encoded size is
// always MessageSize on both sides of the boundary.
type Message struct {
	Header  Header
	Buffers [MaxBuffers]BufferDescriptor
	Inline  [MaxInlineData]byte
}

// NewRequest returns a request message for the given API with the common
// header fields filled in. The request id is assigned by the correlation
// engine at submit time.
func NewRequest(api uint32) *Message {
	m := &Message{}
	m.Header.Magic = MessageMagic
	m.Header.Version = Version
	m.Header.Kind = KindRequest
	m.Header.API = api
	m.Header.Flags = FlagSync
	return m
}

// NewResponse returns a response message correlated to req.
func NewResponse(req *Message) *Message {
	m := &Message{}
	m.Header.Magic = MessageMagic
	m.Header.Version = Version
	m.Header.Kind = KindResponse
	m.Header.API = req.Header.API
	m.Header.RequestID = req.Header.RequestID
	m.Header.Timestamp = req.Header.Timestamp
	return m
}

// SetInline copies data into the inline payload area and records its size.
func (m *Message) SetInline(data []byte) error {
	if len(data) > MaxInlineData {
		return ErrInlineOverflow
	}
	copy(m.Inline[:], data)
	m.Header.InlineSize = uint32(len(data))
	return nil
}

// InlineBytes returns the valid portion of the inline payload.
func (m *Message) InlineBytes() []byte {
	return m.Inline[:m.Header.InlineSize]
}

// Descriptors returns the populated descriptor slots.
func (m *Message) Descriptors() []BufferDescriptor {
	return m.Buffers[:m.Header.BufferCount]
}

// StreamedSizes returns the byte counts of stream payloads that follow
// this message on the channel, in descriptor slot order. Requests stream
// host-readable buffers; responses stream host-written ones. A
// write-direction buffer has no bytes to send with the request, only to
// bring back with the response.
func (m *Message) StreamedSizes() []int {
	want := AccessRead
	if m.Header.Kind != KindRequest {
		want = AccessWrite
	}
	var sizes []int
	for _, d := range m.Descriptors() {
		if d.LocationKind() == LocStream && d.Access()&want != 0 {
			sizes = append(sizes, int(d.Size))
		}
	}
	return sizes
}
