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

// Package host runs the serving side: it owns the shared region and arena,
// accepts guest channels and pumps each one through the API executor.
package host

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hostcall/hostcall/api"
	"github.com/hostcall/hostcall/protocol"
	"github.com/hostcall/hostcall/rpc"
	"github.com/hostcall/hostcall/shm"
	"github.com/hostcall/hostcall/transfer"
	"github.com/hostcall/hostcall/types"
	"github.com/hostcall/hostcall/util"
	"github.com/sirupsen/logrus"
)

type session struct {
	id         string
	remoteAddr string
	connected  time.Time
	requests   uint64
	server     *rpc.Server
}

// Server accepts guest channels and serves the remoted APIs over them.
// One rpc.Server pumps each accepted channel; they all share the executor,
// region and arena.
type Server struct {
	sync.RWMutex
	Name      string
	StartTime time.Time

	listenAddr string
	regionPath string
	arenaPath  string

	region   *shm.Region
	arena    *transfer.Arena
	executor *api.Executor
	ln       net.Listener
	sessions map[string]*session

	requestsTotal  uint64
	responsesTotal uint64
	errorsTotal    uint64
	lastRequest    int64
}

// Option customizes the host server.
type Option func(*Server)

// WithName names the server for logs and the management API.
func WithName(name string) Option {
	return func(s *Server) {
		s.Name = name
	}
}

// WithListen sets the channel listen address.
func WithListen(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithRegionPath sets where the shared region file is created.
func WithRegionPath(path string) Option {
	return func(s *Server) {
		s.regionPath = path
	}
}

// WithArenaPath sets where the zero-copy arena file is created.
func WithArenaPath(path string) Option {
	return func(s *Server) {
		s.arenaPath = path
	}
}

// NewServer builds the host server. The region and arena are created
// eagerly so a guest can map them before its first call.
func NewServer(opts ...Option) (*Server, error) {
	s := &Server{
		Name:       "hostcall",
		StartTime:  time.Now(),
		listenAddr: fmt.Sprintf(":%d", types.DefaultPort),
		sessions:   map[string]*session{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.regionPath != "" {
		region, err := shm.Create(s.regionPath, shm.DefaultRequestAreaSize, shm.DefaultResponseAreaSize)
		if err != nil {
			return nil, err
		}
		s.region = region
	}
	if s.arenaPath != "" {
		arena, err := transfer.Create(s.arenaPath, transfer.DefaultArenaSize)
		if err != nil {
			if s.region != nil {
				s.region.Close()
			}
			return nil, err
		}
		s.arena = arena
	}

	// Socket channels run in network byte order.
	s.executor = api.NewExecutor(protocol.NewSocketCodec().Order(), s.region, s.arena)
	return s, nil
}

// Region exposes the shared region, nil when not configured.
func (s *Server) Region() *shm.Region {
	return s.region
}

// Arena exposes the zero-copy arena, nil when not configured.
func (s *Server) Arena() *transfer.Arena {
	return s.arena
}

// Serve accepts guest channels until the listener closes.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", s.listenAddr, err)
	}
	s.Lock()
	s.ln = ln
	s.Unlock()
	logrus.Infof("Listening for guest channels on %s", s.listenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			logrus.Infof("Accept loop exiting: %v", err)
			return nil
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	sess := &session{
		id:         util.UUID(),
		remoteAddr: conn.RemoteAddr().String(),
		connected:  time.Now(),
	}
	wire := rpc.NewWire(conn, protocol.NewSocketCodec())
	server := rpc.NewServer(wire, s.executor)
	server.SetRequestCallback(func(req *protocol.Message, failed bool) {
		s.accountRequest(sess, req, failed)
	})
	sess.server = server

	s.Lock()
	s.sessions[sess.id] = sess
	s.Unlock()
	sessionsActive.Inc()
	logrus.Infof("Session %v connected from %v", sess.id, sess.remoteAddr)

	if err := server.Handle(); err != nil {
		logrus.Errorf("Session %v ended with error: %v", sess.id, err)
	}

	s.Lock()
	delete(s.sessions, sess.id)
	s.Unlock()
	sessionsActive.Dec()
	logrus.Infof("Session %v from %v closed", sess.id, sess.remoteAddr)
}

func (s *Server) accountRequest(sess *session, req *protocol.Message, failed bool) {
	atomic.AddUint64(&sess.requests, 1)
	atomic.AddUint64(&s.requestsTotal, 1)
	atomic.StoreInt64(&s.lastRequest, time.Now().Unix())

	status := "ok"
	if failed {
		atomic.AddUint64(&s.errorsTotal, 1)
		status = "error"
	} else {
		atomic.AddUint64(&s.responsesTotal, 1)
	}

	size := float64(req.Header.InlineSize)
	for _, d := range req.Descriptors() {
		size += float64(d.Size)
	}
	requestsTotal.WithLabelValues(apiName(req.Header.API), status).Inc()
	requestBytes.WithLabelValues(apiName(req.Header.API)).Observe(size)
}

// Stats snapshots the server counters.
func (s *Server) Stats() types.Stats {
	s.RLock()
	active := len(s.sessions)
	s.RUnlock()

	var regionRequests uint32
	if s.region != nil {
		regionRequests = s.region.RequestCount()
	}
	return types.Stats{
		RequestsTotal:   atomic.LoadUint64(&s.requestsTotal),
		ResponsesTotal:  atomic.LoadUint64(&s.responsesTotal),
		ErrorsTotal:     atomic.LoadUint64(&s.errorsTotal),
		SessionsActive:  active,
		RegionRequests:  regionRequests,
		IsUp:            true,
		UpSince:         s.StartTime.UTC().Format(time.RFC3339),
		LastRequestUnix: atomic.LoadInt64(&s.lastRequest),
	}
}

// Sessions lists the connected guest sessions.
func (s *Server) Sessions() []types.SessionInfo {
	s.RLock()
	defer s.RUnlock()
	infos := make([]types.SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		infos = append(infos, types.SessionInfo{
			ID:         sess.id,
			RemoteAddr: sess.remoteAddr,
			Connected:  sess.connected.UTC().Format(time.RFC3339),
			Requests:   atomic.LoadUint64(&sess.requests),
		})
	}
	return infos
}

// Shutdown stops the listener, tears down sessions and releases the shared
// memory.
func (s *Server) Shutdown() {
	s.Lock()
	ln := s.ln
	s.ln = nil
	var servers []*rpc.Server
	for _, sess := range s.sessions {
		servers = append(servers, sess.server)
	}
	s.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, server := range servers {
		server.Stop()
	}
	if s.arena != nil {
		if err := s.arena.Close(); err != nil {
			logrus.Errorf("Failed to close arena: %v", err)
		}
	}
	if s.region != nil {
		if err := s.region.Close(); err != nil {
			logrus.Errorf("Failed to close region: %v", err)
		}
	}
}

func apiName(api uint32) string {
	switch api {
	case protocol.APIEcho:
		return "echo"
	case protocol.APIBufferTest:
		return "buffertest"
	case protocol.APIPerfTest:
		return "perftest"
	default:
		return "unknown"
	}
}
