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

package rpc

import (
	"bufio"
	"sync"

	"github.com/hostcall/hostcall/protocol"
	"github.com/hostcall/hostcall/transport"
	"github.com/hostcall/hostcall/types"
	"github.com/sirupsen/logrus"
)

// Wire frames messages over a channel. A message is always exactly
// protocol.MessageSize bytes; stream-located payloads follow it immediately
// in descriptor slot order, sized by their descriptors. The write lock
// keeps a message and its payload train contiguous on the channel.
type Wire struct {
	WriteLock sync.Mutex
	ReadLock  sync.Mutex
	channel   types.Channel
	codec     *protocol.Codec
	writer    *bufio.Writer
	reader    *bufio.Reader
}

func NewWire(channel types.Channel, codec *protocol.Codec) *Wire {
	return &Wire{
		channel: channel,
		codec:   codec,
		writer:  bufio.NewWriterSize(channel, writeBufferSize),
		reader:  bufio.NewReaderSize(channel, readBufferSize),
	}
}

// Codec returns the codec this wire frames with.
func (w *Wire) Codec() *protocol.Codec {
	return w.codec
}

// Transmit writes one message and its streamed payloads. Payloads must
// match the message's stream-located descriptors in count and size.
func (w *Wire) Transmit(msg *protocol.Message, payloads [][]byte) error {
	encoded, err := w.codec.Encode(msg)
	if err != nil {
		return err
	}

	w.WriteLock.Lock()
	defer w.WriteLock.Unlock()
	if _, err := w.writer.Write(encoded); err != nil {
		logrus.Errorf("Write message failed, Error: %v", err)
		return err
	}
	for _, p := range payloads {
		if _, err := transport.WriteChunked(w.writer, p); err != nil {
			logrus.Errorf("Write payload failed, Error: %v", err)
			return err
		}
	}
	return w.writer.Flush()
}

// Receive reads one message and its streamed payloads.
func (w *Wire) Receive() (*protocol.Message, [][]byte, error) {
	w.ReadLock.Lock()
	defer w.ReadLock.Unlock()

	raw, err := transport.ReadExact(w.reader, protocol.MessageSize)
	if err != nil {
		return nil, nil, err
	}
	msg, err := w.codec.Decode(raw)
	if err != nil {
		logrus.Errorf("Decode message failed, Error: %v", err)
		return nil, nil, err
	}

	var payloads [][]byte
	for _, size := range msg.StreamedSizes() {
		p, err := transport.ReadExact(w.reader, size)
		if err != nil {
			logrus.Errorf("Read payload failed, Error: %v", err)
			return nil, nil, err
		}
		payloads = append(payloads, p)
	}
	return msg, payloads, nil
}

// Close tears down the underlying channel.
func (w *Wire) Close() error {
	return w.channel.Close()
}
