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

package rest

import (
	"strconv"

	"github.com/hostcall/hostcall/host"
	"github.com/hostcall/hostcall/types"
	"github.com/rancher/go-rancher/api"
	"github.com/rancher/go-rancher/client"
)

type Session struct {
	client.Resource
	types.SessionInfo
}

type HostStats struct {
	client.Resource
	Name           string `json:"name"`
	RequestsTotal  string `json:"requeststotal"`
	ResponsesTotal string `json:"responsestotal"`
	ErrorsTotal    string `json:"errorstotal"`
	SessionCount   int    `json:"sessioncount"`
	RegionRequests string `json:"regionrequests"`
	IsUp           bool   `json:"isup"`
	UpSince        string `json:"upsince"`
}

type JournalInput struct {
	client.Resource
	Limit int `json:"limit"`
}

func NewSession(context *api.ApiContext, info types.SessionInfo) *Session {
	return &Session{
		Resource: client.Resource{
			Id:      info.ID,
			Type:    "session",
			Actions: map[string]string{},
		},
		SessionInfo: info,
	}
}

func NewHostStats(context *api.ApiContext, name string, stats types.Stats) *HostStats {
	return &HostStats{
		Resource:       client.Resource{Type: "stats"},
		Name:           name,
		RequestsTotal:  strconv.FormatUint(stats.RequestsTotal, 10),
		ResponsesTotal: strconv.FormatUint(stats.ResponsesTotal, 10),
		ErrorsTotal:    strconv.FormatUint(stats.ErrorsTotal, 10),
		SessionCount:   stats.SessionsActive,
		RegionRequests: strconv.FormatUint(uint64(stats.RegionRequests), 10),
		IsUp:           stats.IsUp,
		UpSince:        stats.UpSince,
	}
}

func NewSchema() *client.Schemas {
	schemas := &client.Schemas{}

	schemas.AddType("error", client.ServerApiError{})
	schemas.AddType("apiVersion", client.Resource{})
	schemas.AddType("schema", client.Schema{})
	schemas.AddType("journalInput", JournalInput{})
	schemas.AddType("stats", HostStats{})

	session := schemas.AddType("session", Session{})
	session.ResourceMethods = []string{"GET"}

	return schemas
}

type Server struct {
	h *host.Server
}

func NewServer(h *host.Server) *Server {
	return &Server{
		h: h,
	}
}
