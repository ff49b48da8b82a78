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

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
)

// Rejection reasons passed to the reject hook
const (
	ReasonMissing = "missing"
	ReasonInvalid = "invalid"
	ReasonError   = "error"
)

type contextKey string

const clientIDKey contextKey = "auth_client_id"

// ClientIDFromContext returns the opaque id of the authenticated key
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// ClientID derives a stable, non-reversible id for a key, used for rate
// limiting and logs
func ClientID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// KeyFromRequest reads X-API-Key, falling back to an Authorization bearer token
func KeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// MiddlewareOption configures Middleware
type MiddlewareOption func(*middleware)

// WithRejectHook is called with a reason for every rejected request
func WithRejectHook(hook func(reason string)) MiddlewareOption {
	return func(m *middleware) { m.onReject = hook }
}

type middleware struct {
	gate     *Gate
	onReject func(reason string)
}

// Middleware rejects requests without a valid API key. A missing or
// invalid key yields 401; a failed lookup yields 500. The request never
// reaches next in either case.
func (g *Gate) Middleware(opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{gate: g}
	for _, opt := range opts {
		opt(m)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := KeyFromRequest(r)
			if key == "" {
				m.reject(w, ReasonMissing, http.StatusUnauthorized, "unauthorized")
				return
			}

			ok, err := g.Check(r.Context(), key)
			if err != nil {
				g.logger.Error("", r.Header.Get("X-Request-ID"), "API key lookup failed", map[string]interface{}{
					"client_id": ClientID(key),
					"error":     err.Error(),
				})
				m.reject(w, ReasonError, http.StatusInternalServerError, "internal server error")
				return
			}
			if !ok {
				m.reject(w, ReasonInvalid, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), clientIDKey, ClientID(key))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m *middleware) reject(w http.ResponseWriter, reason string, status int, msg string) {
	if m.onReject != nil {
		m.onReject(reason)
	}
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="toolgate"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}
