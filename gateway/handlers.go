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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"toolgate/platform/auth"
	"toolgate/platform/connectors/base"
	"toolgate/platform/connectors/registry"
)

// maxArgsBytes caps a tool call request body
const maxArgsBytes = 1 << 20

const homePage = `<!DOCTYPE html>
<html>
<head><title>Toolgate</title></head>
<body>
<h1>Toolgate MCP Gateway</h1>
<p>Database and upstream API tools for agents, behind an API key gate.</p>
<p>See <a href="/docs">/docs</a> for the endpoint list.</p>
</body>
</html>
`

const aboutText = "About Toolgate: a tool gateway exposing PostgreSQL table operations " +
	"and Jira, Confluence and VirusTotal lookups to authorized agents.\n"

const docsText = `API Documentation:
- GET  /: Welcome page
- GET  /about: About this server
- GET  /status: Server status information
- GET  /health: Connector and database pool health
- GET  /prometheus: Prometheus metrics
- GET  /mcp/tools: List connectors and their tools (API key required)
- POST /mcp/tools/{connector}/{tool}: Call a tool with a JSON object of arguments (API key required)

Authenticate with the X-API-Key header or Authorization: Bearer <key>.
`

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, homePage)
}

func (s *Server) handleAbout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, aboutText)
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, docsText)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "running",
		"server":    ServerName,
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// handleHealth reports every connector and the pool.
// GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	statuses := s.registry.HealthCheckAll(ctx)

	healthyCount, unhealthyCount := 0, 0
	for _, status := range statuses {
		if status.Healthy {
			healthyCount++
		} else {
			unhealthyCount++
		}
	}

	resp := map[string]interface{}{
		"status":          "ok",
		"connectors":      statuses,
		"healthy_count":   healthyCount,
		"unhealthy_count": unhealthyCount,
		"timestamp":       time.Now().UTC(),
	}
	if s.pool != nil {
		if stats, ok := s.pool.Stats(); ok {
			resp["pool"] = map[string]interface{}{
				"initialized":      true,
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
				"max_open":         stats.MaxOpenConnections,
				"wait_count":       stats.WaitCount,
			}
		} else {
			resp["pool"] = map[string]interface{}{"initialized": false}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListTools lists connectors with their tools.
// GET /mcp/tools
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	catalog := s.registry.Catalog()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"connectors": catalog,
		"count":      len(catalog),
	})
}

// handleCallTool runs one tool with the request body as arguments.
// POST /mcp/tools/{connector}/{tool}
func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	connectorName, toolName := vars["connector"], vars["tool"]
	requestID := r.Header.Get(RequestIDHeader)
	clientID := auth.ClientIDFromContext(r.Context())

	connector, err := s.registry.Get(connectorName)
	if err != nil {
		s.metrics.toolCalls.WithLabelValues("unknown", "unknown", "not_found").Inc()
		writeError(w, http.StatusNotFound, "connector not found", map[string]interface{}{"connector": connectorName})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxArgsBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", nil)
		return
	}
	args := json.RawMessage(bytes.TrimSpace(body))
	if len(args) > 0 && (!json.Valid(args) || args[0] != '{') {
		writeError(w, http.StatusBadRequest, "arguments must be a JSON object", nil)
		return
	}

	start := time.Now()
	result, err := connector.Call(r.Context(), toolName, args)
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	if err != nil {
		status, payload := s.mapToolError(err)
		outcome := "error"
		if status < http.StatusInternalServerError {
			outcome = "rejected"
		}
		// Unknown tool names are caller supplied; keep them out of metric labels
		toolLabel := toolName
		if errors.Is(err, base.ErrUnknownTool) {
			toolLabel = "unknown"
		}
		s.metrics.toolCalls.WithLabelValues(connectorName, toolLabel, outcome).Inc()
		s.logger.Warn(clientID, requestID, "Tool call failed", map[string]interface{}{
			"connector":   connectorName,
			"tool":        base.SanitizeLogString(toolName),
			"status":      status,
			"error":       base.SanitizeLogString(err.Error()),
			"duration_ms": elapsed,
		})
		payload["success"] = false
		payload["connector"] = connectorName
		payload["tool"] = toolName
		payload["request_id"] = requestID
		writeJSON(w, status, payload)
		return
	}

	s.metrics.toolCalls.WithLabelValues(connectorName, toolName, "success").Inc()
	s.logger.InfoWithDuration(clientID, requestID, "Tool call completed", elapsed, map[string]interface{}{
		"connector": connectorName,
		"tool":      toolName,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"connector":  connectorName,
		"tool":       toolName,
		"request_id": requestID,
		"result":     result,
	})
}

// mapToolError turns a connector error into a status and body
func (s *Server) mapToolError(err error) (int, map[string]interface{}) {
	var failure base.ToolFailure
	switch {
	case errors.As(err, &failure):
		details := failure.Details()
		payload := make(map[string]interface{}, len(details)+4)
		for k, v := range details {
			payload[k] = v
		}
		if _, ok := payload["error"]; !ok {
			payload["error"] = failure.Error()
		}
		return failure.StatusCode(), payload
	case errors.Is(err, base.ErrUnknownTool):
		return http.StatusNotFound, map[string]interface{}{"error": "unknown tool"}
	case errors.Is(err, base.ErrInvalidArguments):
		return http.StatusBadRequest, map[string]interface{}{"error": err.Error()}
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound, map[string]interface{}{"error": "connector not found"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, map[string]interface{}{"error": "tool call timed out"}
	default:
		return http.StatusBadGateway, map[string]interface{}{"error": err.Error()}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, extra map[string]interface{}) {
	body := map[string]interface{}{
		"success": false,
		"error":   msg,
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}
