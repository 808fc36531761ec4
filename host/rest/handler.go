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

	"github.com/rancher/go-rancher/api"
	"github.com/rancher/go-rancher/client"
	"github.com/sirupsen/logrus"
)

// HandlerFunc is an http handler that surfaces errors to the API framework.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

// HandleError wraps a HandlerFunc so errors come back as API error
// resources instead of bare 500s.
func HandleError(s *client.Schemas, t HandlerFunc) http.Handler {
	return api.ApiHandler(s, http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		if err := t(rw, req); err != nil {
			logrus.Warnf("HTTP handling error %v", err)
			apiContext := api.GetApiContext(req)
			rw.WriteHeader(http.StatusInternalServerError)
			apiContext.Write(&client.ServerApiError{
				Resource: client.Resource{
					Type: "error",
				},
				Status:  http.StatusInternalServerError,
				Code:    "Server Error",
				Message: err.Error(),
			})
		}
	}))
}
