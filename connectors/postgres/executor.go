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
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"toolgate/platform/connectors/base"
	"toolgate/platform/shared/logger"
)

// Mode selects how the executor shapes the result
type Mode int

const (
	// FetchAll returns every row
	FetchAll Mode = iota
	// FetchOne returns the first row or nil
	FetchOne
	// ExecOnly returns a command status
	ExecOnly
	// FetchDefault returns whatever rows the statement yields. Inserts with
	// returning columns run in this mode.
	FetchDefault
)

func (m Mode) String() string {
	switch m {
	case FetchAll:
		return "fetch_all"
	case FetchOne:
		return "fetch_one"
	case ExecOnly:
		return "exec_only"
	case FetchDefault:
		return "fetch_default"
	default:
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
}

// Status is the outcome of an ExecOnly statement
type Status struct {
	Status       string `json:"status"`
	RowsAffected int64  `json:"rows_affected"`
}

// Result holds exactly one of Rows, Row or Status depending on the mode
type Result struct {
	Mode   Mode
	Rows   []map[string]interface{}
	Row    map[string]interface{}
	Status *Status
}

// ErrorKind classifies execution failures
type ErrorKind string

const (
	KindConfiguration   ErrorKind = "configuration"
	KindPoolUnavailable ErrorKind = "pool_unavailable"
	KindStatement       ErrorKind = "statement"
	KindUnexpected      ErrorKind = "unexpected"
)

// QueryError is the only error type returned by Execute.
// Statement and Params may hold sensitive data and are never logged.
type QueryError struct {
	Kind      ErrorKind
	Message   string
	Code      string // SQLSTATE, statement errors only
	CodeName  string // SQLSTATE condition name, statement errors only
	Statement string
	Params    []interface{}
	Cause     error

	hideStatement bool
}

func (e *QueryError) Error() string {
	return e.Message
}

func (e *QueryError) Unwrap() error {
	return e.Cause
}

// StatusCode maps the error kind to an HTTP status
func (e *QueryError) StatusCode() int {
	switch e.Kind {
	case KindConfiguration, KindPoolUnavailable:
		return http.StatusServiceUnavailable
	case KindStatement:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Details is the structured error body returned to the caller
func (e *QueryError) Details() map[string]interface{} {
	d := map[string]interface{}{
		"error": e.Message,
		"kind":  string(e.Kind),
	}
	if e.Code != "" {
		d["code"] = e.Code
		d["code_name"] = e.CodeName
	}
	if !e.hideStatement && e.Statement != "" {
		d["query"] = e.Statement
		d["params"] = e.Params
	}
	return d
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithStatementTimeout bounds each statement; zero disables the bound
func WithStatementTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = d }
}

// WithExposeStatements controls whether QueryError.Details includes query text and params
func WithExposeStatements(expose bool) ExecutorOption {
	return func(e *Executor) { e.expose = expose }
}

// WithExecutorLogger sets the executor logger
func WithExecutorLogger(l *logger.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// Executor runs statements against the shared pool, one transaction per statement
type Executor struct {
	pool    *PoolManager
	timeout time.Duration
	expose  bool
	logger  *logger.Logger
}

// NewExecutor creates an executor bound to pool
func NewExecutor(pool *PoolManager, opts ...ExecutorOption) *Executor {
	e := &Executor{
		pool:    pool,
		timeout: 30 * time.Second,
		expose:  true,
		logger:  logger.New("postgres-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Pool returns the pool manager the executor draws from
func (e *Executor) Pool() *PoolManager {
	return e.pool
}

// Execute runs stmt in its own transaction. Any error is a *QueryError and
// the transaction is rolled back. The connection always returns to the pool.
func (e *Executor) Execute(ctx context.Context, stmt Statement, mode Mode) (*Result, error) {
	start := time.Now()

	db, err := e.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			return nil, e.fail(stmt, KindConfiguration, err.Error(), err)
		}
		return nil, e.fail(stmt, KindPoolUnavailable, "Database connection pool unavailable: "+err.Error(), err)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, e.classify(stmt, err)
	}
	// no-op after a successful Commit
	defer func() { _ = tx.Rollback() }()

	result, err := run(ctx, tx, stmt, mode)
	if err != nil {
		return nil, e.classify(stmt, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, e.classify(stmt, err)
	}

	e.logger.Debug("", "", "Statement executed", map[string]interface{}{
		"mode":        mode.String(),
		"verb":        verb(stmt.Text),
		"param_count": len(stmt.Params),
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return result, nil
}

func run(ctx context.Context, tx *sql.Tx, stmt Statement, mode Mode) (*Result, error) {
	switch mode {
	case ExecOnly:
		res, err := tx.ExecContext(ctx, stmt.Text, stmt.Params...)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		return &Result{Mode: mode, Status: &Status{Status: commandTag(stmt.Text, n), RowsAffected: n}}, nil

	case FetchOne:
		rows, err := queryRows(ctx, tx, stmt, 1)
		if err != nil {
			return nil, err
		}
		res := &Result{Mode: mode}
		if len(rows) > 0 {
			res.Row = rows[0]
		}
		return res, nil

	case FetchAll, FetchDefault:
		rows, err := queryRows(ctx, tx, stmt, 0)
		if err != nil {
			return nil, err
		}
		return &Result{Mode: mode, Rows: rows}, nil

	default:
		return nil, fmt.Errorf("unsupported execution mode %s", mode)
	}
}

// queryRows scans rows into maps; limit > 0 stops after limit rows
func queryRows(ctx context.Context, tx *sql.Tx, stmt Statement, limit int) ([]map[string]interface{}, error) {
	rows, err := tx.QueryContext(ctx, stmt.Text, stmt.Params...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			// text, numeric and json columns arrive as []byte
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func verb(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

// commandTag renders a PostgreSQL style command tag
func commandTag(text string, n int64) string {
	v := verb(text)
	if v == "INSERT" {
		return fmt.Sprintf("INSERT 0 %d", n)
	}
	return fmt.Sprintf("%s %d", v, n)
}

func (e *Executor) classify(stmt Statement, err error) *QueryError {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		qe := e.fail(stmt, KindStatement,
			fmt.Sprintf("Database query error: %s - %s", pqErr.Code.Name(), pqErr.Message), err)
		qe.Code = string(pqErr.Code)
		qe.CodeName = pqErr.Code.Name()
		return qe
	}
	return e.fail(stmt, KindUnexpected,
		"An unexpected error occurred during query execution: "+err.Error(), err)
}

func (e *Executor) fail(stmt Statement, kind ErrorKind, msg string, cause error) *QueryError {
	qe := &QueryError{
		Kind:          kind,
		Message:       msg,
		Statement:     stmt.Text,
		Params:        stmt.Params,
		Cause:         cause,
		hideStatement: !e.expose,
	}
	e.logger.Warn("", "", "Statement failed", map[string]interface{}{
		"kind":        string(kind),
		"verb":        verb(stmt.Text),
		"param_count": len(stmt.Params),
		"error":       base.SanitizeLogString(msg),
	})
	return qe
}

var _ base.ToolFailure = (*QueryError)(nil)
