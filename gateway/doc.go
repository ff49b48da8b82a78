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
Package gateway is the HTTP front of Toolgate.

# Routes

Public:

	GET  /            welcome page
	GET  /about       plain text description
	GET  /docs        endpoint list
	GET  /status      {"status":"running", ...}
	GET  /health      connector health and pool stats
	GET  /prometheus  Prometheus exposition

API key required (X-API-Key or Authorization: Bearer):

	GET  /mcp/tools                      connector catalog
	POST /mcp/tools/{connector}/{tool}   call a tool; body is a JSON object

# Errors

Tool errors are mapped to statuses in one place. A base.ToolFailure
supplies its own status and body (query errors, upstream HTTP errors,
unconfigured connectors). Unknown tools are 404, bad arguments 400,
deadlines 504, and anything else 502.

# Rate limiting

Authenticated requests pass through a Limiter keyed by client id. With a
Redis URL the window is shared across replicas; otherwise each process
keeps its own token buckets.
*/
package gateway
