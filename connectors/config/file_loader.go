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

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the variable pointing at an optional YAML config file
const ConfigFileEnv = "GATEWAY_CONFIG_FILE"

// Load reads environment defaults, overlays the YAML file at path (or
// $GATEWAY_CONFIG_FILE when path is empty) and validates the result.
func Load(path string) (*GatewayConfig, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		if err := ApplyFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyFile overlays the YAML file at path onto cfg.
// Only keys present in the file replace existing values.
func ApplyFile(cfg *GatewayConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := decodeYAML(cfg, data); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func decodeYAML(cfg *GatewayConfig, data []byte) error {
	// Expand environment variables in the content
	expanded := expandEnvVars(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// envVarRegex matches ${VAR_NAME} or $VAR_NAME patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars expands environment variable references in the string.
// Supports ${VAR_NAME}, ${VAR_NAME:-default} and $VAR_NAME; undefined
// variables without a default expand to the empty string.
func expandEnvVars(content string) string {
	return envVarRegex.ReplaceAllStringFunc(content, func(match string) string {
		var varName string
		if strings.HasPrefix(match, "${") {
			varName = match[2 : len(match)-1]
		} else {
			varName = match[1:]
		}

		defaultVal := ""
		if idx := strings.Index(varName, ":-"); idx != -1 {
			defaultVal = varName[idx+2:]
			varName = varName[:idx]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultVal
	})
}

// GenerateExampleConfigFile returns a commented example configuration
func GenerateExampleConfigFile() string {
	return `# Tool gateway configuration
# Environment variables can be referenced using ${VAR_NAME} or ${VAR_NAME:-default} syntax.
# Keys omitted here keep their environment/default values.

server:
  port: ${PORT:-8000}
  redis_url: ${REDIS_URL}
  rate_limit_per_minute: 120
  allowed_origins: ["*"]
  expose_query_errors: false
  shutdown_timeout: 15s

database:
  user: ${DB_USER:-postgres}
  password_secret_arn: ${DB_PASSWORD_SECRET_ARN}
  host: ${DB_HOST:-localhost}
  port: 5432
  name: ${DB_NAME:-mydatabase}
  sslmode: require
  pool_min: 1
  pool_max: 10
  statement_timeout: 30s
  allowed_tables: [items, orders]

api_keys:
  table: api_keys
  key_column: key_value
  active_column: is_active

atlassian:
  domain: ${ATLASSIAN_DOMAIN}
  jira_user_email: ${JIRA_USER_EMAIL}
  jira_api_token: ${JIRA_API_TOKEN}
  confluence_pat: ${CONFLUENCE_PAT}

virustotal:
  api_key: ${VIRUSTOTAL_API_KEY}
`
}
