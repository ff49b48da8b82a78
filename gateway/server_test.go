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
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/platform/auth"
	"toolgate/platform/connectors/base"
	"toolgate/platform/connectors/config"
	"toolgate/platform/connectors/postgres"
	"toolgate/platform/connectors/registry"
	"toolgate/platform/shared/logger"
)

const validKey = "key-valid-123"

// keyExecutor answers the API key lookup from an in-memory set
type keyExecutor struct {
	valid map[string]bool
	err   error
}

func (k *keyExecutor) Execute(ctx context.Context, stmt postgres.Statement, mode postgres.Mode) (*postgres.Result, error) {
	if k.err != nil {
		return nil, k.err
	}
	key, _ := stmt.Params[0].(string)
	return &postgres.Result{Mode: mode, Row: map[string]interface{}{"exists": k.valid[key]}}, nil
}

// toolFailure is a minimal base.ToolFailure
type toolFailure struct {
	status  int
	details map[string]interface{}
}

func (f *toolFailure) Error() string                   { return "tool failure" }
func (f *toolFailure) StatusCode() int                 { return f.status }
func (f *toolFailure) Details() map[string]interface{} { return f.details }

// fakeConnector routes tool names to canned outcomes
type fakeConnector struct {
	name    string
	healthy bool
	lastArg json.RawMessage
}

func (f *fakeConnector) Name() string    { return f.name }
func (f *fakeConnector) Type() string    { return "fake" }
func (f *fakeConnector) Version() string { return "0.0.1" }

func (f *fakeConnector) Tools() []base.ToolSpec {
	return []base.ToolSpec{
		{Name: "echo", Description: "returns arguments", ReadOnly: true},
		{Name: "fail", Description: "fails with a structured error"},
	}
}

func (f *fakeConnector) Call(ctx context.Context, tool string, args json.RawMessage) (interface{}, error) {
	f.lastArg = args
	switch tool {
	case "echo":
		var v map[string]interface{}
		if err := base.DecodeArgs(args, &struct {
			Message string `json:"message"`
		}{}); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(args, &v)
		return v, nil
	case "fail":
		return nil, &toolFailure{status: http.StatusBadRequest, details: map[string]interface{}{
			"error": "Database query error: undefined_table - relation does not exist",
			"code":  "42P01",
		}}
	case "upstream":
		return nil, errors.New("dial tcp: connection refused")
	case "slow":
		return nil, context.DeadlineExceeded
	}
	return nil, base.ErrUnknownTool
}

func (f *fakeConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return &base.HealthStatus{Healthy: f.healthy, Timestamp: time.Now()}, nil
}

func (f *fakeConnector) Disconnect(ctx context.Context) error { return nil }

type fakePool struct {
	stats sql.DBStats
	ok    bool
}

func (p fakePool) Stats() (sql.DBStats, bool) { return p.stats, p.ok }

func testKeyConfig() config.APIKeyConfig {
	return config.APIKeyConfig{Table: "api_keys", KeyColumn: "key_value", ActiveColumn: "is_active"}
}

func newTestServer(t *testing.T, mutate func(*Options)) (*Server, *fakeConnector, *keyExecutor) {
	t.Helper()

	exec := &keyExecutor{valid: map[string]bool{validKey: true}}
	gate, err := auth.NewGate(exec, testKeyConfig())
	require.NoError(t, err)

	reg := registry.NewRegistry()
	conn := &fakeConnector{name: "fake", healthy: true}
	require.NoError(t, reg.Register(conn))

	opts := Options{
		Config:   config.ServerConfig{Port: 0, AllowedOrigins: []string{"*"}, ShutdownTimeout: time.Second},
		Registry: reg,
		Auth:     gate,
		Logger:   logger.NewWithWriter("gateway-test", io.Discard),
	}
	if mutate != nil {
		mutate(&opts)
	}

	s, err := NewServer(opts)
	require.NoError(t, err)
	return s, conn, exec
}

func doRequest(t *testing.T, s *Server, method, path, key string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(Options{})
	assert.Error(t, err)

	_, err = NewServer(Options{Registry: registry.NewRegistry()})
	assert.Error(t, err)
}

func TestPublicRoutes(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	tests := []struct {
		path        string
		contentType string
		contains    string
	}{
		{"/", "text/html", "Toolgate MCP Gateway"},
		{"/about", "text/plain", "About Toolgate"},
		{"/docs", "text/plain", "POST /mcp/tools/{connector}/{tool}"},
		{"/status", "application/json", `"status":"running"`},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rr := doRequest(t, s, http.MethodGet, tt.path, "", "")
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Contains(t, rr.Header().Get("Content-Type"), tt.contentType)
			assert.Contains(t, rr.Body.String(), tt.contains)
		})
	}
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	body := decodeBody(t, doRequest(t, s, http.MethodGet, "/status", "", ""))

	assert.Equal(t, "running", body["status"])
	assert.Equal(t, ServerName, body["server"])
	assert.Equal(t, Version, body["version"])
	_, err := time.Parse(time.RFC3339Nano, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, func(o *Options) {
		o.Pool = fakePool{ok: true, stats: sql.DBStats{MaxOpenConnections: 10, OpenConnections: 2, InUse: 1, Idle: 1}}
	})

	rr := doRequest(t, s, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)

	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["healthy_count"])
	connectors := body["connectors"].(map[string]interface{})
	assert.Contains(t, connectors, "fake")

	pool := body["pool"].(map[string]interface{})
	assert.Equal(t, true, pool["initialized"])
	assert.Equal(t, float64(10), pool["max_open"])
	assert.Equal(t, float64(1), pool["in_use"])
}

func TestHealth_PoolNotInitialized(t *testing.T) {
	s, _, _ := newTestServer(t, func(o *Options) { o.Pool = fakePool{} })
	body := decodeBody(t, doRequest(t, s, http.MethodGet, "/health", "", ""))
	assert.Equal(t, map[string]interface{}{"initialized": false}, body["pool"])
}

func TestAuth_RejectsMissingAndInvalidKeys(t *testing.T) {
	s, conn, _ := newTestServer(t, nil)

	for _, key := range []string{"", "wrong-key"} {
		rr := doRequest(t, s, http.MethodPost, "/mcp/tools/fake/echo", key, `{"message":"hi"}`)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, false, decodeBody(t, rr)["success"])
	}
	assert.Nil(t, conn.lastArg, "tool must not run without a valid key")

	rr := doRequest(t, s, http.MethodGet, "/mcp/tools", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_LookupErrorIs500(t *testing.T) {
	s, _, exec := newTestServer(t, nil)
	exec.err = errors.New("pool unavailable")

	rr := doRequest(t, s, http.MethodGet, "/mcp/tools", validKey, "")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestAuth_BearerToken(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/mcp/tools", nil)
	req.Header.Set("Authorization", "Bearer "+validKey)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestListTools(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodGet, "/mcp/tools", validKey, "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)

	assert.Equal(t, float64(1), body["count"])
	connectors := body["connectors"].([]interface{})
	first := connectors[0].(map[string]interface{})
	assert.Equal(t, "fake", first["name"])
	assert.Len(t, first["tools"], 2)
}

func TestCallTool_Success(t *testing.T) {
	s, conn, _ := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodPost, "/mcp/tools/fake/echo", validKey, `{"message":"hello"}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	body := decodeBody(t, rr)

	assert.Equal(t, true, body["success"])
	assert.Equal(t, "fake", body["connector"])
	assert.Equal(t, "echo", body["tool"])
	assert.Equal(t, map[string]interface{}{"message": "hello"}, body["result"])
	assert.NotEmpty(t, body["request_id"])
	assert.JSONEq(t, `{"message":"hello"}`, string(conn.lastArg))
}

func TestCallTool_ErrorMapping(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"unknown connector", "/mcp/tools/nope/echo", `{}`, http.StatusNotFound, "connector not found"},
		{"unknown tool", "/mcp/tools/fake/nope", `{}`, http.StatusNotFound, "unknown tool"},
		{"invalid arguments", "/mcp/tools/fake/echo", `{"bogus":1}`, http.StatusBadRequest, "invalid tool arguments"},
		{"non-object body", "/mcp/tools/fake/echo", `[1,2]`, http.StatusBadRequest, "arguments must be a JSON object"},
		{"malformed body", "/mcp/tools/fake/echo", `{"message":`, http.StatusBadRequest, "arguments must be a JSON object"},
		{"tool failure", "/mcp/tools/fake/fail", `{}`, http.StatusBadRequest, "Database query error: undefined_table"},
		{"upstream error", "/mcp/tools/fake/upstream", `{}`, http.StatusBadGateway, "connection refused"},
		{"timeout", "/mcp/tools/fake/slow", `{}`, http.StatusGatewayTimeout, "tool call timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, s, http.MethodPost, tt.path, validKey, tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code, rr.Body.String())
			body := decodeBody(t, rr)
			assert.Equal(t, false, body["success"])
			assert.Contains(t, body["error"], tt.wantError)
		})
	}
}

func TestCallTool_ToolFailureDetailsPassThrough(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	body := decodeBody(t, doRequest(t, s, http.MethodPost, "/mcp/tools/fake/fail", validKey, ""))
	assert.Equal(t, "42P01", body["code"])
}

func TestCallTool_EmptyBodyIsEmptyArgs(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rr := doRequest(t, s, http.MethodPost, "/mcp/tools/fake/echo", validKey, "")
	assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestCallTool_MethodNotAllowed(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rr := doRequest(t, s, http.MethodGet, "/mcp/tools/fake/echo", validKey, "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	rr := doRequest(t, s, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not found", decodeBody(t, rr)["error"])
}

func TestRequestID(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	rr := doRequest(t, s, http.MethodGet, "/status", "", "")
	generated := rr.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)

	req := httptest.NewRequest(http.MethodPost, "/mcp/tools/fake/echo", strings.NewReader(`{}`))
	req.Header.Set(RequestIDHeader, "caller-id-1")
	req.Header.Set("X-API-Key", validKey)
	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, "caller-id-1", rr.Header().Get(RequestIDHeader))
	assert.Equal(t, "caller-id-1", decodeBody(t, rr)["request_id"])
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t, func(o *Options) {
		o.Config.AllowedOrigins = []string{"https://agents.example.com"}
	})

	tests := []struct {
		name        string
		origin      string
		headers     string
		wantAllowed bool
	}{
		// browsers send the header list lowercased
		{"api key header", "https://agents.example.com", "x-api-key", true},
		{"several allowed headers", "https://agents.example.com", "content-type,x-request-id", true},
		{"no header list", "https://agents.example.com", "", true},
		{"header outside allow list", "https://agents.example.com", "x-forwarded-user", false},
		{"unknown origin", "https://evil.example.com", "x-api-key", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/mcp/tools/fake/echo", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			if tt.headers != "" {
				req.Header.Set("Access-Control-Request-Headers", tt.headers)
			}
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)

			got := rr.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllowed {
				assert.Equal(t, tt.origin, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestRateLimit_Local(t *testing.T) {
	s, _, _ := newTestServer(t, func(o *Options) { o.Limiter = newLocal(t, 2) })

	for i := 0; i < 2; i++ {
		rr := doRequest(t, s, http.MethodPost, "/mcp/tools/fake/echo", validKey, `{}`)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "2", rr.Header().Get("X-RateLimit-Limit"))
	}

	rr := doRequest(t, s, http.MethodPost, "/mcp/tools/fake/echo", validKey, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// public routes are not limited
	rr = doRequest(t, s, http.MethodGet, "/status", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPrometheus(t *testing.T) {
	s, _, _ := newTestServer(t, func(o *Options) {
		o.Pool = fakePool{ok: true, stats: sql.DBStats{MaxOpenConnections: 10}}
	})

	doRequest(t, s, http.MethodPost, "/mcp/tools/fake/echo", validKey, `{}`)
	doRequest(t, s, http.MethodPost, "/mcp/tools/fake/echo", "bad", `{}`)

	rr := doRequest(t, s, http.MethodGet, "/prometheus", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	text := rr.Body.String()

	assert.Contains(t, text, `toolgate_tool_calls_total{connector="fake",outcome="success",tool="echo"} 1`)
	assert.Contains(t, text, `toolgate_auth_rejections_total{reason="invalid"} 1`)
	assert.Contains(t, text, `toolgate_http_requests_total{method="POST",route="/mcp/tools/{connector}/{tool}",status="200"} 1`)
	assert.Contains(t, text, "toolgate_db_pool_max_open_connections 10")
}

func TestServe_GracefulShutdown(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/status"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Post(url, "application/json", bytes.NewReader(nil))
	assert.Error(t, err)
}
