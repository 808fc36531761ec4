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
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrInvalidMagic means the header sentinel did not match.
	ErrInvalidMagic = errors.New("invalid message magic")
	// ErrUnsupportedVersion means the peer speaks a different protocol version.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// ErrTruncated means the input is shorter than the fixed message size.
	ErrTruncated = errors.New("truncated message")
	// ErrInlineOverflow means the declared inline size exceeds the capacity.
	ErrInlineOverflow = errors.New("inline payload exceeds capacity")
	// ErrTooManyBuffers means the descriptor count exceeds the slot capacity.
	ErrTooManyBuffers = errors.New("buffer descriptor count exceeds capacity")
)

// Codec encodes and decodes fixed-size messages in one byte order. Two
// variants exist because the historical transports disagree: channels that
// move raw memory (shared region, VMBus style) use the machine's
// little-endian layout, socket channels use network byte order. Both share
// the same struct definitions and validation rules.
type Codec struct {
	order binary.ByteOrder
}

// NewNativeCodec returns the codec for shared-memory style channels.
// The protocol fixes little-endian as the "native" layout so that both
// peers agree even if one is emulated.
func NewNativeCodec() *Codec {
	return &Codec{order: binary.LittleEndian}
}

// NewSocketCodec returns the codec for socket channels, which transmit in
// network byte order.
func NewSocketCodec() *Codec {
	return &Codec{order: binary.BigEndian}
}

// Encode serializes msg into a fresh MessageSize buffer. It fails before
// touching the output if the inline size or descriptor count exceed the
// protocol limits.
func (c *Codec) Encode(msg *Message) ([]byte, error) {
	if msg.Header.InlineSize > MaxInlineData {
		return nil, ErrInlineOverflow
	}
	if msg.Header.BufferCount > MaxBuffers {
		return nil, ErrTooManyBuffers
	}
	buf := bytes.NewBuffer(make([]byte, 0, MessageSize))
	if err := binary.Write(buf, c.order, &msg.Header); err != nil {
		return nil, fmt.Errorf("encode header: %v", err)
	}
	if err := binary.Write(buf, c.order, &msg.Buffers); err != nil {
		return nil, fmt.Errorf("encode descriptors: %v", err)
	}
	if _, err := buf.Write(msg.Inline[:]); err != nil {
		return nil, fmt.Errorf("encode inline data: %v", err)
	}
	return buf.Bytes(), nil
}

// Decode parses one fixed-size message. The length is checked first, then
// the magic and version sentinels; no other field is interpreted until both
// match.
func (c *Codec) Decode(p []byte) (*Message, error) {
	if len(p) != MessageSize {
		return nil, ErrTruncated
	}
	if c.order.Uint32(p[0:4]) != MessageMagic {
		return nil, ErrInvalidMagic
	}
	if c.order.Uint32(p[4:8]) != Version {
		return nil, ErrUnsupportedVersion
	}

	msg := &Message{}
	r := bytes.NewReader(p)
	if err := binary.Read(r, c.order, &msg.Header); err != nil {
		return nil, fmt.Errorf("decode header: %v", err)
	}
	if msg.Header.InlineSize > MaxInlineData {
		return nil, ErrInlineOverflow
	}
	if msg.Header.BufferCount > MaxBuffers {
		return nil, ErrTooManyBuffers
	}
	if err := binary.Read(r, c.order, &msg.Buffers); err != nil {
		return nil, fmt.Errorf("decode descriptors: %v", err)
	}
	copy(msg.Inline[:], p[HeaderSize+MaxBuffers*DescriptorSize:])
	return msg, nil
}

// Order exposes the codec byte order for inline payload schemas.
func (c *Codec) Order() binary.ByteOrder {
	return c.order
}
