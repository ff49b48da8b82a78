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
Package logger provides structured JSON logging for the gateway components.

# Overview

The logger package writes one JSON document per line (zerolog encoder) to
stdout, making logs easily consumable by CloudWatch, ELK stack, or other log
aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gateway, postgres, auth, etc.)
  - Instance ID and container name (for distributed tracing)
  - Client ID (masked API key prefix of the caller)
  - Request ID (for request correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("gateway")

Log messages with client and request context:

	log.Info("client-123", "req-456", "Tool call", map[string]interface{}{
	    "connector": "postgres",
	    "tool":      "select_from_table",
	})

Log errors with status codes:

	log.ErrorWithCode("client-123", "req-456", "Request failed", 500, err, map[string]interface{}{
	    "tool": "select_from_table",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("client-123", "req-456", "Request completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"gateway","instance_id":"i-abc123","container":"gw-xyz",
	 "client_id":"client-123","request_id":"req-456",
	 "fields":{"tool":"select_from_table"},"message":"Tool call"}

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)
  - LOG_LEVEL: Minimum level written (DEBUG, INFO, WARN, ERROR; default INFO)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
