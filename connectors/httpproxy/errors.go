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

package httpproxy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// ProxyError is returned for upstream failures that carry a payload for the caller.
// It implements base.ToolFailure.
type ProxyError struct {
	// Upstream is the status returned by the upstream API, zero for local failures
	Upstream int
	Message  string
	Body     interface{}
	status   int
}

func (e *ProxyError) Error() string {
	return e.Message
}

// StatusCode is the status the gateway answers with
func (e *ProxyError) StatusCode() int {
	return e.status
}

// Details renders {"error": ..., "details": ...}
func (e *ProxyError) Details() map[string]interface{} {
	d := map[string]interface{}{"error": e.Message}
	if e.Body != nil {
		d["details"] = e.Body
	}
	if e.Upstream != 0 {
		d["upstream_status"] = e.Upstream
	}
	return d
}

// NotConfigured reports missing upstream credentials; no request is sent
func NotConfigured(message string) *ProxyError {
	return &ProxyError{Message: message, status: http.StatusServiceUnavailable}
}

func newHTTPError(code int, body []byte) *ProxyError {
	var details interface{}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		var decoded interface{}
		if err := json.Unmarshal(trimmed, &decoded); err == nil {
			details = decoded
		} else {
			details = string(body)
		}
	} else {
		details = ""
	}
	return &ProxyError{
		Upstream: code,
		Message:  fmt.Sprintf("HTTP error: %d - %s", code, http.StatusText(code)),
		Body:     details,
		status:   http.StatusBadGateway,
	}
}
