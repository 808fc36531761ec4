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
	"net/http"

	"github.com/gorilla/mux"
	journal "github.com/openebs/sparse-tools/stats"
	"github.com/rancher/go-rancher/api"
	"github.com/rancher/go-rancher/client"
)

func (s *Server) ListSessions(rw http.ResponseWriter, req *http.Request) error {
	apiContext := api.GetApiContext(req)
	resp := client.GenericCollection{}
	for _, info := range s.h.Sessions() {
		resp.Data = append(resp.Data, NewSession(apiContext, info))
	}
	resp.ResourceType = "session"
	apiContext.Write(&resp)
	return nil
}

func (s *Server) GetSession(rw http.ResponseWriter, req *http.Request) error {
	apiContext := api.GetApiContext(req)
	id := mux.Vars(req)["id"]

	for _, info := range s.h.Sessions() {
		if info.ID == id {
			apiContext.Write(NewSession(apiContext, info))
			return nil
		}
	}
	rw.WriteHeader(http.StatusNotFound)
	return nil
}

func (s *Server) GetStats(rw http.ResponseWriter, req *http.Request) error {
	apiContext := api.GetApiContext(req)
	apiContext.Write(NewHostStats(apiContext, s.h.Name, s.h.Stats()))
	return nil
}

// ListJournal flushes the pending-op journal accumulated since the previous
// flush.
func (s *Server) ListJournal(rw http.ResponseWriter, req *http.Request) error {
	var input JournalInput
	apiContext := api.GetApiContext(req)
	if err := apiContext.Read(&input); err != nil {
		return err
	}
	journal.PrintLimited(input.Limit)
	return nil
}
