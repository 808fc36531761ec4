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

// Package rpc correlates requests with responses over a shared channel.
// Many goroutines may issue requests concurrently; a single loop goroutine
// owns the pending table, so request ids, completion and abandonment are
// serialized without a lock.
package rpc

import (
	"errors"
	"sync"
	"time"

	inject "github.com/hostcall/hostcall/error-inject"
	"github.com/hostcall/hostcall/protocol"
	"github.com/hostcall/hostcall/types"
	journal "github.com/openebs/sparse-tools/stats"
	"github.com/sirupsen/logrus"
)

var (
	// ErrRequestTimeout means no response arrived inside the request
	// timeout. The request is abandoned; a late response is discarded.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrClientClosed means the client shut down before the request ran.
	ErrClientClosed = errors.New("client is closed")
)

// Client is the guest-side correlation engine. Request ids are assigned
// from a monotonic counter before the request enters the loop, so a caller
// that times out can abandon its own id.
type Client struct {
	requests  chan *call
	send      chan *call
	responses chan *inbound
	abandons  chan uint64
	pending   map[uint64]*call
	wire      *Wire
	peerAddr  string
	timeout   time.Duration

	idLock sync.Mutex
	nextID uint64
	err    error

	closeOnce sync.Once
	loopDone  chan struct{}
}

// NewClient starts the client pumps over an established wire. peerAddr is
// only used for logging and journaling.
func NewClient(wire *Wire, peerAddr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = types.DefaultRequestTimeout
	}
	c := &Client{
		wire:      wire,
		peerAddr:  peerAddr,
		timeout:   timeout,
		requests:  make(chan *call, 1024),
		send:      make(chan *call, 1024),
		responses: make(chan *inbound, 1024),
		abandons:  make(chan uint64, 1024),
		pending:   map[uint64]*call{},
		loopDone:  make(chan struct{}),
	}
	go c.loop()
	go c.write()
	go c.read()
	return c
}

// TargetID identifies the peer for journaling.
func (c *Client) TargetID() string {
	return c.peerAddr
}

// Timeout returns the per-request timeout in force.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) assignID() uint64 {
	c.idLock.Lock()
	defer c.idLock.Unlock()
	c.nextID++
	return c.nextID
}

// Do submits one request and blocks until its response, a transport error
// or the timeout. msg's request id is assigned here; payloads must match
// the stream-located descriptors.
func (c *Client) Do(msg *protocol.Message, payloads [][]byte) (*protocol.Message, [][]byte, error) {
	msg.Header.RequestID = c.assignID()
	msg.Header.Timestamp = uint64(time.Now().UnixNano())

	cl := &call{
		Complete: make(chan struct{}, 1),
		Request:  msg,
		Payloads: payloads,
	}

	select {
	case c.requests <- cl:
	case <-c.loopDone:
		return nil, nil, ErrClientClosed
	}

	select {
	case <-cl.Complete:
		if cl.Err != nil {
			return nil, nil, cl.Err
		}
		if cl.Response.Header.Kind == protocol.KindError {
			apiErr := &APIError{Code: cl.Response.Header.ErrorCode}
			apiErr.Message = string(cl.Response.InlineBytes())
			logrus.Errorf("replying error %v for request %v of api %v on addr %s",
				apiErr, msg.Header.RequestID, msg.Header.API, c.peerAddr)
			return nil, nil, apiErr
		}
		return cl.Response, cl.ResponsePayloads, nil
	case <-time.After(c.timeout):
		logrus.Errorf("Request timeout on %s, api=%v id=%v", c.peerAddr, msg.Header.API, msg.Header.RequestID)
		select {
		case c.abandons <- msg.Header.RequestID:
		case <-c.loopDone:
		}
		return nil, nil, ErrRequestTimeout
	}
}

// SetError poisons the client with a transport error. Everything in flight
// fails with it.
func (c *Client) SetError(err error) {
	select {
	case c.responses <- &inbound{transportErr: err}:
	case <-c.loopDone:
	}
}

// Err returns the transport error that stopped the client, if any.
func (c *Client) Err() error {
	select {
	case <-c.loopDone:
		return c.err
	default:
		return nil
	}
}

// Close tears down the channel; the read pump surfaces the teardown as a
// transport error and the loop drains everything in flight.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.wire.Close()
	})
	return err
}

func (c *Client) loop() {
	defer close(c.loopDone)
	defer func() {
		if err := c.Close(); err != nil {
			logrus.Errorf("failed to close client conn, err: %v", err)
		}
	}()

	for {
		select {
		case cl := <-c.requests:
			c.handleRequest(cl)
		case id := <-c.abandons:
			c.handleAbandon(id)
		case in := <-c.responses:
			c.handleResponse(in)
			if c.err != nil {
				logrus.Infof("Exiting rpc loop for %v with err %v", c.peerAddr, c.err)
				return
			}
		}
	}
}

func (c *Client) replyError(cl *call) {
	logrus.Errorf("replying err %v for request %v of api %v on addr %s", c.err,
		cl.Request.Header.RequestID, cl.Request.Header.API, c.peerAddr)
	journal.RemovePendingOp(cl.id, false)
	delete(c.pending, cl.Request.Header.RequestID)
	cl.Err = c.err
	cl.Complete <- struct{}{}
}

func (c *Client) handleRequest(cl *call) {
	size := int(cl.Request.Header.InlineSize)
	for _, d := range cl.Request.Descriptors() {
		size += int(d.Size)
	}
	cl.id = journal.InsertPendingOp(time.Now(), c.peerAddr, journal.SampleOp(opForAPI(cl.Request.Header.API)), size)

	if c.err != nil {
		c.replyError(cl)
		return
	}

	c.pending[cl.Request.Header.RequestID] = cl
	c.send <- cl
}

func (c *Client) handleAbandon(id uint64) {
	cl, ok := c.pending[id]
	if !ok {
		// Completed before the caller gave up; nothing to drop.
		return
	}
	journal.RemovePendingOp(cl.id, false)
	delete(c.pending, id)
}

func (c *Client) handleResponse(in *inbound) {
	if in.transportErr != nil {
		c.err = in.transportErr
		// Terminate all in flight
		for _, cl := range c.pending {
			c.replyError(cl)
		}
		return
	}

	id := in.msg.Header.RequestID
	if cl, ok := c.pending[id]; ok {
		journal.RemovePendingOp(cl.id, true)
		delete(c.pending, id)
		cl.Response = in.msg
		cl.ResponsePayloads = in.payloads
		cl.Complete <- struct{}{}
	} else {
		// Late or duplicate response for an abandoned request.
		logrus.Errorf("RequestID: %v not found, pending count: %v, RemoteAddr:%v", id, len(c.pending), c.peerAddr)
	}
}

func (c *Client) write() {
	for {
		select {
		case cl := <-c.send:
			inject.AddSendTimeout()
			if err := c.wire.Transmit(cl.Request, cl.Payloads); err != nil {
				logrus.Errorf("Error writing to wire: %v, RemoteAddr: %v", err, c.peerAddr)
				c.SetError(err)
				logrus.Infof("Exiting rpc writer, RemoteAddr:%v", c.peerAddr)
				return
			}
		case <-c.loopDone:
			logrus.Infof("Exiting rpc writer, RemoteAddr:%v", c.peerAddr)
			return
		}
	}
}

func (c *Client) read() {
	for {
		msg, payloads, err := c.wire.Receive()
		if err != nil {
			logrus.Errorf("Error reading from wire: %v, RemoteAddr: %v", err, c.peerAddr)
			c.SetError(err)
			break
		}
		select {
		case c.responses <- &inbound{msg: msg, payloads: payloads}:
		case <-c.loopDone:
			return
		}
	}
	logrus.Infof("Exiting rpc reader, RemoteAddr:%v", c.peerAddr)
}
