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

/*
Package base provides the core interfaces and helpers shared by every
tool connector in the gateway.

# Connector Interface

A connector is a named group of tools. The gateway looks connectors up by
name in the registry and dispatches calls by tool name:

	type Connector interface {
	    Name() string
	    Type() string
	    Version() string
	    Tools() []ToolSpec

	    Call(ctx context.Context, tool string, args json.RawMessage) (interface{}, error)

	    HealthCheck(ctx context.Context) (*HealthStatus, error)
	    Disconnect(ctx context.Context) error
	}

Tool arguments arrive as raw JSON. Connectors decode them with DecodeArgs,
which rejects unknown fields and keeps numbers as json.Number:

	var p struct {
	    IssueKey string `json:"issue_key"`
	}
	if err := base.DecodeArgs(args, &p); err != nil {
	    return nil, err
	}

# Errors

ErrUnknownTool and ErrInvalidArguments are sentinel errors the gateway maps
to 404 and 400. Errors implementing ToolFailure carry their own status code
and a structured body; the postgres QueryError and the HTTP proxy error both
do. Everything else is wrapped in a ConnectorError and reported as 502.

# Security Helpers

ValidateURL guards upstream base URLs against SSRF, ValidateSQLIdentifier
checks table and column names before they are spliced into SQL, and
SanitizeLogString / MaskSecret keep user input and credentials out of logs.
*/
package base
