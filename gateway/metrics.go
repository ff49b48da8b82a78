// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// PoolStats is implemented by *postgres.PoolManager
type PoolStats interface {
	Stats() (sql.DBStats, bool)
}

// Metrics holds the gateway's Prometheus collectors on a private registry
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	toolCalls       *prometheus.CounterVec
	authRejections  *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

// NewMetrics registers the gateway collectors, plus pool gauges when pool is non-nil
func NewMetrics(pool PoolStats) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toolgate_http_request_duration_milliseconds",
				Help:    "Request duration in milliseconds",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
			},
			[]string{"route"},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_tool_calls_total",
				Help: "Tool invocations by connector, tool and outcome",
			},
			[]string{"connector", "tool", "outcome"},
		),
		authRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toolgate_auth_rejections_total",
				Help: "Requests rejected by the API key gate",
			},
			[]string{"reason"},
		),
		rateLimited: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "toolgate_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}

	m.Registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.toolCalls,
		m.authRejections,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if pool != nil {
		m.registerPoolGauges(pool)
	}
	return m
}

func (m *Metrics) registerPoolGauges(pool PoolStats) {
	gauge := func(name, help string, read func(sql.DBStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			stats, ok := pool.Stats()
			if !ok {
				return 0
			}
			return read(stats)
		})
	}

	m.Registry.MustRegister(
		gauge("toolgate_db_pool_open_connections", "Open connections in the shared pool",
			func(s sql.DBStats) float64 { return float64(s.OpenConnections) }),
		gauge("toolgate_db_pool_in_use_connections", "Connections currently checked out",
			func(s sql.DBStats) float64 { return float64(s.InUse) }),
		gauge("toolgate_db_pool_idle_connections", "Idle connections",
			func(s sql.DBStats) float64 { return float64(s.Idle) }),
		gauge("toolgate_db_pool_max_open_connections", "Configured pool maximum",
			func(s sql.DBStats) float64 { return float64(s.MaxOpenConnections) }),
		gauge("toolgate_db_pool_wait_count", "Total waits for a pooled connection",
			func(s sql.DBStats) float64 { return float64(s.WaitCount) }),
	)
}
