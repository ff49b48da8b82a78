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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"

	"toolgate/platform/shared/logger"
)

// SecretsManager resolves a secret reference to its key/value pairs
type SecretsManager interface {
	GetSecret(ctx context.Context, secretARN string) (map[string]string, error)
}

// secretValueAPI is the subset of the AWS client used here
type secretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecretsManager implements SecretsManager using AWS Secrets Manager
type AWSSecretsManager struct {
	client secretValueAPI
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *logger.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
}

// NewAWSSecretsManager creates a new AWS Secrets Manager client
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newAWSSecretsManager(secretsmanager.NewFromConfig(cfg), opts.CacheTTL), nil
}

func newAWSSecretsManager(client secretValueAPI, ttl time.Duration) *AWSSecretsManager {
	if ttl <= 0 {
		ttl = 5 * time.Minute // Cache secrets for 5 minutes by default
	}
	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: logger.New("secrets-manager"),
	}
}

// GetSecret retrieves a secret from AWS Secrets Manager.
// JSON object secrets are returned as-is; plain strings under the "value" key.
func (s *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[secretARN]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskARN(secretARN), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskARN(secretARN))
	}

	var credentials map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &credentials); err != nil {
		credentials = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[secretARN] = &secretCacheEntry{
		value:     credentials,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	s.logger.Info("", "", "Retrieved and cached secret", map[string]interface{}{
		"secret": maskARN(secretARN),
	})
	return credentials, nil
}

// InvalidateSecret removes a secret from the cache
func (s *AWSSecretsManager) InvalidateSecret(secretARN string) {
	s.mu.Lock()
	delete(s.cache, secretARN)
	s.mu.Unlock()
}

// maskARN masks the secret ARN for logging (shows only last 8 characters)
func maskARN(arn string) string {
	if len(arn) <= 12 {
		return "***"
	}
	return "..." + arn[len(arn)-8:]
}

// LocalSecretsManager keeps secrets in memory, for development and tests
type LocalSecretsManager struct {
	secrets map[string]map[string]string
	mu      sync.RWMutex
}

// NewLocalSecretsManager creates an empty local secrets manager
func NewLocalSecretsManager() *LocalSecretsManager {
	return &LocalSecretsManager{secrets: make(map[string]map[string]string)}
}

// GetSecret retrieves a secret from local storage
func (s *LocalSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if secret, exists := s.secrets[secretARN]; exists {
		return secret, nil
	}
	return nil, fmt.Errorf("secret %s not found in local secrets manager", maskARN(secretARN))
}

// SetSecret stores a secret locally
func (s *LocalSecretsManager) SetSecret(secretARN string, value map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[secretARN] = value
}

// EnvSecretsManager treats the secret reference as an environment variable prefix.
// "DB" resolves DB_USERNAME, DB_PASSWORD and so on.
type EnvSecretsManager struct{}

// GetSecret retrieves credentials from environment variables
func (EnvSecretsManager) GetSecret(ctx context.Context, prefix string) (map[string]string, error) {
	fields := map[string]string{
		"USERNAME": "username",
		"PASSWORD": "password",
		"API_KEY":  "api_key",
		"TOKEN":    "token",
	}

	credentials := make(map[string]string)
	for field, key := range fields {
		if value := os.Getenv(prefix + "_" + field); value != "" {
			credentials[key] = value
		}
	}
	if len(credentials) == 0 {
		return nil, fmt.Errorf("no credentials found for prefix %s", prefix)
	}
	return credentials, nil
}

// ResolveDatabasePassword fills cfg.Password from cfg.PasswordSecretARN.
// The secret's "password" key wins, falling back to a plain string value.
func ResolveDatabasePassword(ctx context.Context, sm SecretsManager, cfg *DatabaseConfig) error {
	if cfg.PasswordSecretARN == "" {
		return nil
	}
	secret, err := sm.GetSecret(ctx, cfg.PasswordSecretARN)
	if err != nil {
		return fmt.Errorf("resolve database password: %w", err)
	}
	if pw, ok := secret["password"]; ok {
		cfg.Password = pw
		return nil
	}
	if pw, ok := secret["value"]; ok {
		cfg.Password = pw
		return nil
	}
	return fmt.Errorf("secret %s has no password field", maskARN(cfg.PasswordSecretARN))
}
