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
	"fmt"

	"toolgate/platform/connectors/base"
	"toolgate/platform/connectors/config"
	"toolgate/platform/connectors/postgres"
	"toolgate/platform/shared/logger"
)

// StatementExecutor runs a statement; *postgres.Executor satisfies it
type StatementExecutor interface {
	Execute(ctx context.Context, stmt postgres.Statement, mode postgres.Mode) (*postgres.Result, error)
}

// Gate validates API keys against the configured key table.
// It never mutates the table and never reports a key as valid on error.
type Gate struct {
	exec   StatementExecutor
	query  string
	logger *logger.Logger
}

// NewGate builds the fixed lookup statement. Table and column names are
// validated here so a bad configuration fails at startup.
func NewGate(exec StatementExecutor, cfg config.APIKeyConfig) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Gate{
		exec: exec,
		query: fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = TRUE)",
			cfg.Table, cfg.KeyColumn, cfg.ActiveColumn),
		logger: logger.New("auth"),
	}, nil
}

// Check reports whether key exists and is active. An empty key is
// rejected without touching the database. Lookup failures are returned.
func (g *Gate) Check(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	res, err := g.exec.Execute(ctx, postgres.Statement{Text: g.query, Params: []interface{}{key}}, postgres.FetchOne)
	if err != nil {
		return false, err
	}
	if res == nil || res.Row == nil {
		return false, nil
	}
	switch v := res.Row["exists"].(type) {
	case bool:
		return v, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected api key lookup result %T", v)
	}
}

// ValidateAPIKey is Check collapsed to a boolean; any error means not authorized
func (g *Gate) ValidateAPIKey(ctx context.Context, key string) bool {
	ok, err := g.Check(ctx, key)
	if err != nil {
		g.logger.Warn("", "", "API key validation failed", map[string]interface{}{
			"key":   base.MaskSecret(key),
			"error": base.SanitizeLogString(err.Error()),
		})
		return false
	}
	return ok
}
