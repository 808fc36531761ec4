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
	"fmt"

	"github.com/hostcall/hostcall/protocol"
	journal "github.com/openebs/sparse-tools/stats"
)

const (
	readBufferSize  = 8096
	writeBufferSize = 8096
)

// SampleOp classifies in-flight operations for the pending-op journal.
type SampleOp int

const (
	// OpNone uninitialized operation
	OpNone SampleOp = iota
	// OpEcho echo round trip
	OpEcho
	// OpBufferTest buffer transfer exercise
	OpBufferTest
	// OpPerfTest performance measurement
	OpPerfTest
)

func opForAPI(api uint32) SampleOp {
	switch api {
	case protocol.APIEcho:
		return OpEcho
	case protocol.APIBufferTest:
		return OpBufferTest
	case protocol.APIPerfTest:
		return OpPerfTest
	}
	return OpNone
}

// call is one in-flight request tracked by the client. Complete fires
// exactly once: either the correlated response arrived or the call was
// failed by a transport error. Abandoned calls are dropped from the pending
// table and never complete.
type call struct {
	Complete chan struct{}

	Request          *protocol.Message
	Payloads         [][]byte
	Response         *protocol.Message
	ResponsePayloads [][]byte
	Err              error

	id journal.OpID
}

// inbound carries one read-pump delivery into the client loop. A non-nil
// transportErr poisons the client and fails everything in flight.
type inbound struct {
	msg          *protocol.Message
	payloads     [][]byte
	transportErr error
}

// APIError is a host-reported failure carried back in an error response.
type APIError struct {
	Code    int32
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Code, codeText(e.Code))
}

func codeText(code int32) string {
	switch code {
	case protocol.ErrCodeInvalidAPI:
		return "invalid API identifier"
	case protocol.ErrCodeInvalidParm:
		return "invalid parameters"
	case protocol.ErrCodeMapFailed:
		return "memory map failed"
	case protocol.ErrCodeBufTooLarge:
		return "buffer too large"
	default:
		return "unknown error"
	}
}
