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

package host

import "github.com/prometheus/client_golang/prometheus"

var (
	// requestsTotal counts served requests by API and outcome.
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hostcall_requests_total",
			Help: "Total number of requests served, by API and status.",
		},
		[]string{"api", "status"},
	)
	// requestBytes observes the total bytes referenced by each request,
	// inline payload plus descriptor sizes.
	requestBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hostcall_request_bytes",
			Help:    "Bytes referenced per request, inline plus buffers.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 12),
		},
		[]string{"api"},
	)
	// sessionsActive tracks connected guest sessions.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hostcall_sessions_active",
			Help: "Number of connected guest sessions.",
		},
	)
)

// init registers Prometheus metrics. It's good to register these variables
// here, otherwise you need to register them before use every time.
func init() {
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(requestBytes)
	prometheus.MustRegister(sessionsActive)
}
