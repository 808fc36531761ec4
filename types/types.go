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

package types

import (
	"io"
	"time"

	"github.com/hostcall/hostcall/protocol"
)

const (
	// DefaultRequestTimeout bounds how long a caller blocks on one
	// in-flight request before it is abandoned.
	DefaultRequestTimeout = 5000 * time.Millisecond

	// DefaultPort is the TCP port the host listens on for guest channels.
	DefaultPort = 4660

	// DefaultRESTPort serves the management API and metrics.
	DefaultRESTPort = 9510
)

// Channel is a full-duplex byte stream between guest and host. Both TCP
// connections and in-process pipes satisfy it; the codec layered on top
// decides the byte order.
type Channel interface {
	io.Reader
	io.Writer
	io.Closer
}

// Executor runs one decoded request and produces its response. Payloads
// carry stream-located buffer contents in descriptor slot order; the
// returned payloads are streamed back the same way. Executors never see
// transport concerns, only messages.
type Executor interface {
	Execute(req *protocol.Message, payloads [][]byte) (*protocol.Message, [][]byte, error)
}

// Stats is a point-in-time snapshot of one serving endpoint, exposed over
// the management API.
type Stats struct {
	RequestsTotal   uint64 `json:"requeststotal"`
	ResponsesTotal  uint64 `json:"responsestotal"`
	ErrorsTotal     uint64 `json:"errorstotal"`
	BytesStreamed   uint64 `json:"bytesstreamed"`
	SessionsActive  int    `json:"sessionsactive"`
	RegionRequests  uint32 `json:"regionrequests"`
	IsUp            bool   `json:"isup"`
	UpSince         string `json:"upsince"`
	LastRequestUnix int64  `json:"lastrequestunix"`
}

// SessionInfo describes one connected guest session.
type SessionInfo struct {
	ID         string `json:"id"`
	RemoteAddr string `json:"remoteaddr"`
	Connected  string `json:"connected"`
	Requests   uint64 `json:"requests"`
}
