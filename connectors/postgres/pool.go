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

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"toolgate/platform/connectors/base"
	"toolgate/platform/connectors/config"
	"toolgate/platform/shared/logger"
)

// ErrNotConfigured is returned when user, host or database name is missing.
// No connection is attempted in that case.
var ErrNotConfigured = errors.New("database connection details (DB_USER, DB_HOST, DB_NAME) must be configured")

// Opener opens a database handle. sql.Open is the production opener.
type Opener func(driverName, dsn string) (*sql.DB, error)

// PoolOption configures a PoolManager
type PoolOption func(*PoolManager)

// WithOpener replaces sql.Open, mainly for tests
func WithOpener(open Opener) PoolOption {
	return func(m *PoolManager) { m.open = open }
}

// WithPoolLogger sets the logger used for pool lifecycle events
func WithPoolLogger(l *logger.Logger) PoolOption {
	return func(m *PoolManager) { m.logger = l }
}

// PoolManager owns the process-wide connection pool.
//
// The pool is created on the first Acquire. Concurrent first callers are
// serialized so exactly one pool is opened and all of them receive it.
// A failed creation leaves the manager empty; the next Acquire tries again.
// Close releases every connection and resets the manager.
type PoolManager struct {
	mu     sync.Mutex
	db     *sql.DB
	cfg    config.DatabaseConfig
	open   Opener
	logger *logger.Logger
}

// NewPoolManager creates an uninitialized pool manager. No connection is made until Acquire.
func NewPoolManager(cfg config.DatabaseConfig, opts ...PoolOption) *PoolManager {
	m := &PoolManager{
		cfg:    cfg,
		open:   sql.Open,
		logger: logger.New("postgres-pool"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire returns the shared pool, creating it on first use
func (m *PoolManager) Acquire(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db, nil
	}

	if m.cfg.User == "" || m.cfg.Host == "" || m.cfg.Name == "" {
		return nil, ErrNotConfigured
	}

	db, err := m.create(ctx)
	if err != nil {
		m.logger.Error("", "", "Error creating PostgreSQL connection pool", map[string]interface{}{
			"host":     m.cfg.Host,
			"port":     m.cfg.Port,
			"database": m.cfg.Name,
			"error":    err.Error(),
		})
		return nil, err
	}

	m.db = db
	m.logger.Info("", "", "Successfully initialized database connection pool", map[string]interface{}{
		"host":     m.cfg.Host,
		"port":     m.cfg.Port,
		"database": m.cfg.Name,
		"min_size": m.cfg.PoolMin,
		"max_size": m.cfg.PoolMax,
	})
	return db, nil
}

func (m *PoolManager) create(ctx context.Context) (*sql.DB, error) {
	db, err := m.open("postgres", m.cfg.DSN())
	if err != nil {
		return nil, base.NewConnectorError("postgres", "Acquire", "failed to open connection pool", err)
	}

	maxSize := m.cfg.PoolMax
	if maxSize <= 0 {
		maxSize = config.DefaultPoolMax
	}
	db.SetMaxOpenConns(maxSize)
	db.SetMaxIdleConns(maxSize)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, base.NewConnectorError("postgres", "Acquire", "failed to ping database", err)
	}

	if err := warm(ctx, db, m.cfg.PoolMin); err != nil {
		_ = db.Close()
		return nil, base.NewConnectorError("postgres", "Acquire", "failed to open minimum connections", err)
	}
	return db, nil
}

// warm opens n connections up front and hands them back to the idle set
func warm(ctx context.Context, db *sql.DB, n int) error {
	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			_ = c.Close()
		}
	}()
	for i := 0; i < n; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("connection %d of %d: %w", i+1, n, err)
		}
		conns = append(conns, c)
	}
	return nil
}

// Close releases all connections. Calling Close on an empty manager is a no-op.
func (m *PoolManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	if err != nil {
		return base.NewConnectorError("postgres", "Close", "failed to close connection pool", err)
	}
	m.logger.Info("", "", "Database connection pool closed", nil)
	return nil
}

// Stats reports pool statistics; ok is false when no pool exists
func (m *PoolManager) Stats() (stats sql.DBStats, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return sql.DBStats{}, false
	}
	return m.db.Stats(), true
}

// Initialized reports whether a live pool exists
func (m *PoolManager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db != nil
}
