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
	"io"

	inject "github.com/hostcall/hostcall/error-inject"
	"github.com/hostcall/hostcall/protocol"
	"github.com/hostcall/hostcall/shm"
	"github.com/hostcall/hostcall/transfer"
	"github.com/hostcall/hostcall/types"
	"github.com/sirupsen/logrus"
)

// Server pumps one channel on the host side: read a request, run it
// through the executor, write the correlated response. Responses carry the
// request's id untouched; the guest's correlation engine does the rest.
type Server struct {
	wire      *Wire
	exec      types.Executor
	done      chan struct{}
	onRequest func(req *protocol.Message, failed bool)
}

func NewServer(wire *Wire, exec types.Executor) *Server {
	return &Server{
		wire: wire,
		exec: exec,
		done: make(chan struct{}, 5),
	}
}

// SetRequestCallback installs a per-request hook, used for metrics and
// session accounting.
func (s *Server) SetRequestCallback(cb func(req *protocol.Message, failed bool)) {
	s.onRequest = cb
}

// Handle serves the channel until it closes or errors.
func (s *Server) Handle() error {
	ret := make(chan error, 1)
	go s.readWrite(ret)
	for {
		select {
		case <-s.done:
			return s.wire.Close()
		case err := <-ret:
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (s *Server) readWrite(ret chan<- error) {
	for {
		req, payloads, err := s.wire.Receive()
		if err == io.EOF {
			logrus.Info("Channel closed by peer")
			ret <- err
			break
		} else if err != nil {
			logrus.Errorf("Failed to read: %v", err)
			ret <- err
			break
		}

		inject.AddDispatchTimeout()
		resp, respPayloads := s.dispatch(req, payloads)
		if inject.DropResponses() {
			continue
		}
		if err := s.wire.Transmit(resp, respPayloads); err != nil {
			logrus.Errorf("Failed to write: %v", err)
			ret <- err
			break
		}
	}
}

func (s *Server) dispatch(req *protocol.Message, payloads [][]byte) (*protocol.Message, [][]byte) {
	if req.Header.Kind != protocol.KindRequest {
		logrus.Errorf("Dropping non-request message kind %v, id %v", req.Header.Kind, req.Header.RequestID)
		if s.onRequest != nil {
			s.onRequest(req, true)
		}
		return errorResponse(req, protocol.ErrCodeInvalidParm, "message is not a request"), nil
	}

	resp, respPayloads, err := s.exec.Execute(req, payloads)
	if err != nil {
		logrus.Errorf("Request %v api %v failed: %v", req.Header.RequestID, req.Header.API, err)
		if s.onRequest != nil {
			s.onRequest(req, true)
		}
		return errorResponse(req, errorCode(err), err.Error()), nil
	}
	if s.onRequest != nil {
		s.onRequest(req, resp.Header.Kind == protocol.KindError)
	}
	return resp, respPayloads
}

// Stop asks Handle to tear the channel down.
func (s *Server) Stop() {
	s.done <- struct{}{}
}

// errorResponse builds the error message correlated to req. The reason
// travels in the inline area, truncated if it does not fit.
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

// errorCode maps internal failures onto wire error codes.
func errorCode(err error) int32 {
	switch err {
	case transfer.ErrSizeExceedsLimit:
		return protocol.ErrCodeBufTooLarge
	case transfer.ErrMapFailed, transfer.ErrNotPinned, shm.ErrOutOfBounds:
		return protocol.ErrCodeMapFailed
	case protocol.ErrInlineOverflow, protocol.ErrTooManyBuffers:
		return protocol.ErrCodeInvalidParm
	default:
		return protocol.ErrCodeUnknown
	}
}
