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
	"encoding/json"
	"fmt"
	"time"

	"toolgate/platform/connectors/base"
)

// ToolValidateAPIKey is the only tool of the auth connector
const ToolValidateAPIKey = "validate_api_key"

// Connector exposes the gate as the validate_api_key tool
type Connector struct {
	gate *Gate
}

// NewConnector wraps a gate as a tool connector
func NewConnector(gate *Gate) *Connector {
	return &Connector{gate: gate}
}

func (c *Connector) Name() string    { return "auth" }
func (c *Connector) Type() string    { return "postgres" }
func (c *Connector) Version() string { return "1.0.0" }

func (c *Connector) Tools() []base.ToolSpec {
	return []base.ToolSpec{
		{Name: ToolValidateAPIKey, Description: "Check whether an API key exists and is active", ReadOnly: true},
	}
}

// Call returns {"valid": bool}; lookup failures report false
func (c *Connector) Call(ctx context.Context, tool string, args json.RawMessage) (interface{}, error) {
	if tool != ToolValidateAPIKey {
		return nil, fmt.Errorf("%w: auth/%s", base.ErrUnknownTool, tool)
	}
	var a struct {
		APIKey string `json:"api_key"`
	}
	if err := base.DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	return map[string]bool{"valid": c.gate.ValidateAPIKey(ctx, a.APIKey)}, nil
}

// HealthCheck is always healthy; the postgres connector reports pool health
func (c *Connector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	return &base.HealthStatus{Healthy: true, Timestamp: time.Now()}, nil
}

func (c *Connector) Disconnect(ctx context.Context) error { return nil }

var _ base.Connector = (*Connector)(nil)
