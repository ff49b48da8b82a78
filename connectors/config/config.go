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
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"toolgate/platform/connectors/base"
)

const (
	DefaultPoolMin          = 1
	DefaultPoolMax          = 10
	DefaultStatementTimeout = 30 * time.Second
	DefaultPort             = 8000

	DefaultVirusTotalBaseURL = "https://www.virustotal.com/api/v3"
)

// GatewayConfig is the full runtime configuration
type GatewayConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	APIKeys    APIKeyConfig     `yaml:"api_keys"`
	Atlassian  AtlassianConfig  `yaml:"atlassian"`
	VirusTotal VirusTotalConfig `yaml:"virustotal"`
}

// ServerConfig configures the HTTP listener and request middleware
type ServerConfig struct {
	Port               int           `yaml:"port"`
	RedisURL           string        `yaml:"redis_url"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"` // 0 disables rate limiting
	AllowedOrigins     []string      `yaml:"allowed_origins"`
	ExposeQueryErrors  bool          `yaml:"expose_query_errors"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig configures the shared PostgreSQL pool
type DatabaseConfig struct {
	User              string        `yaml:"user"`
	Password          string        `yaml:"password"`
	PasswordSecretARN string        `yaml:"password_secret_arn"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	Name              string        `yaml:"name"`
	SSLMode           string        `yaml:"sslmode"`
	PoolMin           int           `yaml:"pool_min"`
	PoolMax           int           `yaml:"pool_max"`
	StatementTimeout  time.Duration `yaml:"statement_timeout"`
	AllowedTables     []string      `yaml:"allowed_tables"`
}

// APIKeyConfig names the table and columns consulted by the API key gate
type APIKeyConfig struct {
	Table        string `yaml:"table"`
	KeyColumn    string `yaml:"key_column"`
	ActiveColumn string `yaml:"active_column"`
}

// AtlassianConfig holds Jira and Confluence credentials.
// Tools report a configuration error when their credentials are empty.
type AtlassianConfig struct {
	Domain        string `yaml:"domain"`
	JiraUserEmail string `yaml:"jira_user_email"`
	JiraAPIToken  string `yaml:"jira_api_token"`
	ConfluencePAT string `yaml:"confluence_pat"`
}

// VirusTotalConfig holds the VirusTotal API key
type VirusTotalConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// LoadFromEnv builds a GatewayConfig from environment variables with defaults
func LoadFromEnv() (*GatewayConfig, error) {
	db, err := LoadDatabaseConfig()
	if err != nil {
		return nil, err
	}
	server, err := LoadServerConfig()
	if err != nil {
		return nil, err
	}
	return &GatewayConfig{
		Server:     server,
		Database:   db,
		APIKeys:    LoadAPIKeyConfig(),
		Atlassian:  LoadAtlassianConfig(),
		VirusTotal: LoadVirusTotalConfig(),
	}, nil
}

// LoadDatabaseConfig reads DB_* variables
func LoadDatabaseConfig() (DatabaseConfig, error) {
	cfg := DatabaseConfig{
		User:              getEnvOrDefault("DB_USER", "postgres"),
		Password:          os.Getenv("DB_PASSWORD"),
		PasswordSecretARN: os.Getenv("DB_PASSWORD_SECRET_ARN"),
		Host:              getEnvOrDefault("DB_HOST", "localhost"),
		Name:              getEnvOrDefault("DB_NAME", "mydatabase"),
		SSLMode:           getEnvOrDefault("DB_SSLMODE", "disable"),
		AllowedTables:     splitList(os.Getenv("GATEWAY_ALLOWED_TABLES")),
	}

	var err error
	if cfg.Port, err = getEnvInt("DB_PORT", 5432); err != nil {
		return cfg, err
	}
	if cfg.PoolMin, err = getEnvInt("DB_POOL_MIN", DefaultPoolMin); err != nil {
		return cfg, err
	}
	if cfg.PoolMax, err = getEnvInt("DB_POOL_MAX", DefaultPoolMax); err != nil {
		return cfg, err
	}
	if cfg.StatementTimeout, err = getEnvDuration("DB_STATEMENT_TIMEOUT", DefaultStatementTimeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadAPIKeyConfig reads API_KEY_* variables
func LoadAPIKeyConfig() APIKeyConfig {
	return APIKeyConfig{
		Table:        getEnvOrDefault("API_KEY_TABLE_NAME", "api_keys"),
		KeyColumn:    getEnvOrDefault("API_KEY_COLUMN_NAME", "key_value"),
		ActiveColumn: getEnvOrDefault("API_KEY_ACTIVE_COLUMN_NAME", "is_active"),
	}
}

// LoadAtlassianConfig reads Jira and Confluence credentials
func LoadAtlassianConfig() AtlassianConfig {
	return AtlassianConfig{
		Domain:        os.Getenv("ATLASSIAN_DOMAIN"),
		JiraUserEmail: os.Getenv("JIRA_USER_EMAIL"),
		JiraAPIToken:  os.Getenv("JIRA_API_TOKEN"),
		ConfluencePAT: os.Getenv("CONFLUENCE_PAT"),
	}
}

// LoadVirusTotalConfig reads VIRUSTOTAL_API_KEY
func LoadVirusTotalConfig() VirusTotalConfig {
	return VirusTotalConfig{
		APIKey:  os.Getenv("VIRUSTOTAL_API_KEY"),
		BaseURL: getEnvOrDefault("VIRUSTOTAL_BASE_URL", DefaultVirusTotalBaseURL),
	}
}

// LoadServerConfig reads listener, redis and rate limit settings
func LoadServerConfig() (ServerConfig, error) {
	cfg := ServerConfig{
		RedisURL:          os.Getenv("REDIS_URL"),
		AllowedOrigins:    splitList(getEnvOrDefault("GATEWAY_ALLOWED_ORIGINS", "*")),
		ExposeQueryErrors: true,
	}

	var err error
	if cfg.Port, err = getEnvInt("PORT", DefaultPort); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = getEnvInt("RATE_LIMIT_PER_MINUTE", 0); err != nil {
		return cfg, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("GATEWAY_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return cfg, err
	}
	if v := os.Getenv("GATEWAY_EXPOSE_QUERY_ERRORS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid GATEWAY_EXPOSE_QUERY_ERRORS: %s", v)
		}
		cfg.ExposeQueryErrors = b
	}
	return cfg, nil
}

// DSN renders a lib/pq connection URL
func (c DatabaseConfig) DSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// Validate checks pool sizing and ports. Missing connection details are not
// an error here; the pool reports them when first used.
func (c DatabaseConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("database port out of range: %d", c.Port)
	}
	if c.PoolMin < 0 {
		return fmt.Errorf("pool_min must not be negative")
	}
	if c.PoolMax <= 0 {
		return fmt.Errorf("pool_max must be positive")
	}
	if c.PoolMin > c.PoolMax {
		return fmt.Errorf("pool_min (%d) exceeds pool_max (%d)", c.PoolMin, c.PoolMax)
	}
	if c.StatementTimeout < 0 {
		return fmt.Errorf("statement_timeout must not be negative")
	}
	for _, t := range c.AllowedTables {
		if err := base.ValidateSQLIdentifier(t); err != nil {
			return fmt.Errorf("allowed_tables: %w", err)
		}
	}
	return nil
}

// Validate checks the key table and column names are safe identifiers
func (c APIKeyConfig) Validate() error {
	for field, v := range map[string]string{
		"table":         c.Table,
		"key_column":    c.KeyColumn,
		"active_column": c.ActiveColumn,
	} {
		if err := base.ValidateSQLIdentifier(v); err != nil {
			return fmt.Errorf("api_keys.%s: %w", field, err)
		}
	}
	return nil
}

// Validate checks listener settings
func (c ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Port)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate_limit_per_minute must not be negative")
	}
	return nil
}

// Validate checks every section
func (c *GatewayConfig) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	return c.APIKeys.Validate()
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
