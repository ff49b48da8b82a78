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
Package config loads gateway configuration from environment variables,
an optional YAML file and an optional secrets manager.

# Environment Variables

Database (shared pool used by the SQL tools and the API key gate):

	DB_USER=postgres DB_PASSWORD= DB_HOST=localhost DB_PORT=5432 DB_NAME=mydatabase
	DB_SSLMODE=disable DB_POOL_MIN=1 DB_POOL_MAX=10 DB_STATEMENT_TIMEOUT=30s
	GATEWAY_ALLOWED_TABLES=items,orders   # optional table allow-list
	DB_PASSWORD_SECRET_ARN=arn:aws:...     # optional, resolved at startup

API key lookup:

	API_KEY_TABLE_NAME=api_keys API_KEY_COLUMN_NAME=key_value API_KEY_ACTIVE_COLUMN_NAME=is_active

Upstream credentials:

	ATLASSIAN_DOMAIN JIRA_USER_EMAIL JIRA_API_TOKEN CONFLUENCE_PAT VIRUSTOTAL_API_KEY

Server:

	PORT=8000 REDIS_URL= RATE_LIMIT_PER_MINUTE=0 GATEWAY_EXPOSE_QUERY_ERRORS=true

# Configuration File

Load overlays a YAML file onto the environment values. The file path comes
from the argument or GATEWAY_CONFIG_FILE. References such as ${VAR} and
${VAR:-default} are expanded before parsing:

	cfg, err := config.Load("/etc/gateway/gateway.yaml")
	if err != nil {
	    log.Fatal(err)
	}

GenerateExampleConfigFile returns a documented starting point.

# Secrets

AWSSecretsManager fetches secrets with a TTL cache; LocalSecretsManager and
EnvSecretsManager serve development and tests. ResolveDatabasePassword
fills DatabaseConfig.Password from DB_PASSWORD_SECRET_ARN.
*/
package config
