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
Command toolgate runs the Toolgate MCP gateway.

# Usage

	toolgate [serve] [--config file.yaml]
	toolgate check-db
	toolgate validate-key --key <key>
	toolgate example-config

# Environment Variables

Database:
  - DB_USER, DB_PASSWORD, DB_HOST, DB_PORT, DB_NAME, DB_SSLMODE
  - DB_PASSWORD_SECRET_ARN: read the password from AWS Secrets Manager
  - DB_POOL_MIN, DB_POOL_MAX, DB_STATEMENT_TIMEOUT
  - GATEWAY_ALLOWED_TABLES: comma separated table allow-list (empty allows all)

API keys:
  - API_KEY_TABLE_NAME (default: api_keys)
  - API_KEY_COLUMN_NAME (default: key_value)
  - API_KEY_ACTIVE_COLUMN_NAME (default: is_active)

Upstreams:
  - ATLASSIAN_DOMAIN, JIRA_USER_EMAIL, JIRA_API_TOKEN, CONFLUENCE_PAT
  - VIRUSTOTAL_API_KEY

Server:
  - PORT (default: 8000)
  - REDIS_URL: shared rate limit window across replicas
  - RATE_LIMIT_PER_MINUTE: 0 disables rate limiting
  - GATEWAY_ALLOWED_ORIGINS, GATEWAY_EXPOSE_QUERY_ERRORS, GATEWAY_SHUTDOWN_TIMEOUT
  - LOG_LEVEL: DEBUG, INFO, WARN or ERROR

Upstream connectors with missing credentials stay listed; their tools
answer 503 until the credentials are set.

# Example

	export DB_HOST=localhost DB_NAME=tools DB_PASSWORD=secret
	export ATLASSIAN_DOMAIN=acme.atlassian.net JIRA_USER_EMAIL=bot@acme.com JIRA_API_TOKEN=...
	./toolgate serve
*/
package main
