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

package base

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnknownTool is returned by Call when the connector has no such tool
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidArguments is returned when tool arguments fail to decode or validate
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Connector is a named group of tools exposed to calling agents
type Connector interface {
	// Metadata
	Name() string    // Unique connector instance name (postgres, jira, wiki, virustotal)
	Type() string    // Connector type (postgres, http)
	Version() string // Connector version
	Tools() []ToolSpec

	// Call runs one tool with JSON encoded arguments
	Call(ctx context.Context, tool string, args json.RawMessage) (interface{}, error)

	// Lifecycle Management
	HealthCheck(ctx context.Context) (*HealthStatus, error)
	Disconnect(ctx context.Context) error
}

// ToolSpec describes a tool for listing endpoints
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ReadOnly    bool   `json:"read_only"`
}

// ToolFailure is implemented by errors that carry a structured payload for the caller.
// The gateway renders Details() with StatusCode() instead of a generic error body.
type ToolFailure interface {
	error
	StatusCode() int
	Details() map[string]interface{}
}

// ConnectorConfig holds the configuration for an upstream HTTP connector instance
type ConnectorConfig struct {
	Name          string                 `json:"name" yaml:"name"`                     // Unique name for this connector
	Type          string                 `json:"type" yaml:"type"`                     // Type: postgres, http
	ConnectionURL string                 `json:"connection_url" yaml:"connection_url"` // Base URL or DSN
	Credentials   map[string]string      `json:"-" yaml:"credentials"`                 // Username, password, tokens
	Options       map[string]interface{} `json:"options" yaml:"options"`               // Connector-specific options
	Timeout       time.Duration          `json:"timeout" yaml:"timeout"`               // Operation timeout
	MaxRetries    int                    `json:"max_retries" yaml:"max_retries"`       // Retry count for idempotent calls
}

// BoolOption returns a boolean option or def when absent
func (c *ConnectorConfig) BoolOption(key string, def bool) bool {
	if c == nil || c.Options == nil {
		return def
	}
	if v, ok := c.Options[key].(bool); ok {
		return v
	}
	return def
}

// HealthStatus represents the health of a connector
type HealthStatus struct {
	Healthy   bool              `json:"healthy"`         // Overall health status
	Latency   time.Duration     `json:"latency"`         // Connection latency
	Details   map[string]string `json:"details"`         // Additional diagnostic info
	Timestamp time.Time         `json:"timestamp"`       // When health check was performed
	Error     string            `json:"error,omitempty"` // Error message if unhealthy
}

// ConnectorError represents errors specific to connector operations
type ConnectorError struct {
	ConnectorName string
	Operation     string
	Message       string
	Cause         error
}

func (e *ConnectorError) Error() string {
	if e.Cause != nil {
		return e.ConnectorName + "." + e.Operation + ": " + e.Message + " (cause: " + e.Cause.Error() + ")"
	}
	return e.ConnectorName + "." + e.Operation + ": " + e.Message
}

func (e *ConnectorError) Unwrap() error {
	return e.Cause
}

// NewConnectorError creates a new ConnectorError
func NewConnectorError(connectorName, operation, message string, cause error) *ConnectorError {
	return &ConnectorError{
		ConnectorName: connectorName,
		Operation:     operation,
		Message:       message,
		Cause:         cause,
	}
}

// DecodeArgs strictly decodes tool arguments into v.
// Empty arguments decode as an empty object.
func DecodeArgs(args json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(args)) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	return nil
}

// InvalidArgs formats an ErrInvalidArguments error
func InvalidArgs(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArguments, fmt.Sprintf(format, a...))
}
