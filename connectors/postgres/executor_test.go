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
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/platform/connectors/base"
)

// newMockExecutor wires an executor to a single sqlmock database
func newMockExecutor(t *testing.T, opts ...ExecutorOption) (*Executor, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	pm := NewPoolManager(testDBConfig(),
		WithOpener(func(string, string) (*sql.DB, error) { return db, nil }),
		WithPoolLogger(quietLogger()),
	)
	opts = append([]ExecutorOption{WithExecutorLogger(quietLogger())}, opts...)
	return NewExecutor(pm, opts...), mock, db
}

func requireQueryError(t *testing.T, err error) *QueryError {
	t.Helper()
	require.Error(t, err)
	var qe *QueryError
	require.True(t, errors.As(err, &qe), "expected *QueryError, got %T", err)
	return qe
}

func TestExecutor_FetchAll(t *testing.T) {
	exec, mock, _ := newMockExecutor(t)
	stmt := Statement{Text: "SELECT * FROM items WHERE qty > $1 LIMIT $2 OFFSET $3", Params: []interface{}{1, 10, 5}}

	mock.ExpectBegin()
	mock.ExpectQuery(stmt.Text).WithArgs(1, 10, 5).WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "price"}).
			AddRow(int64(1), []byte("widget"), []byte("9.99")).
			AddRow(int64(2), "gadget", nil),
	)
	mock.ExpectCommit()

	res, err := exec.Execute(context.Background(), stmt, FetchAll)
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, map[string]interface{}{"id": int64(1), "name": "widget", "price": "9.99"}, res.Rows[0])
	assert.Equal(t, map[string]interface{}{"id": int64(2), "name": "gadget", "price": nil}, res.Rows[1])
	assert.Nil(t, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_FetchAllEmpty(t *testing.T) {
	exec, mock, _ := newMockExecutor(t)
	stmt := Statement{Text: "SELECT id FROM items", Params: []interface{}{}}

	mock.ExpectBegin()
	mock.ExpectQuery(stmt.Text).WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	res, err := exec.Execute(context.Background(), stmt, FetchDefault)
	require.NoError(t, err)
	assert.NotNil(t, res.Rows)
	assert.Empty(t, res.Rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_FetchOne(t *testing.T) {
	t.Run("first row", func(t *testing.T) {
		exec, mock, _ := newMockExecutor(t)
		stmt := Statement{Text: "SELECT name FROM items WHERE id = $1", Params: []interface{}{7}}

		mock.ExpectBegin()
		mock.ExpectQuery(stmt.Text).WithArgs(7).WillReturnRows(
			sqlmock.NewRows([]string{"name"}).AddRow("first").AddRow("second"),
		)
		mock.ExpectCommit()

		res, err := exec.Execute(context.Background(), stmt, FetchOne)
		require.NoError(t, err)
		assert.Equal(t, map[string]interface{}{"name": "first"}, res.Row)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no row", func(t *testing.T) {
		exec, mock, _ := newMockExecutor(t)
		stmt := Statement{Text: "SELECT name FROM items WHERE id = $1", Params: []interface{}{8}}

		mock.ExpectBegin()
		mock.ExpectQuery(stmt.Text).WithArgs(8).WillReturnRows(sqlmock.NewRows([]string{"name"}))
		mock.ExpectCommit()

		res, err := exec.Execute(context.Background(), stmt, FetchOne)
		require.NoError(t, err)
		assert.Nil(t, res.Row)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExecutor_ExecOnlyStatus(t *testing.T) {
	tests := []struct {
		text     string
		affected int64
		want     string
	}{
		{"INSERT INTO items (name) VALUES ($1)", 1, "INSERT 0 1"},
		{"UPDATE items SET qty = $1 WHERE id = $2", 5, "UPDATE 5"},
		{"DELETE FROM items WHERE qty < $1", 0, "DELETE 0"},
		{"  merge INTO items USING src ON TRUE WHEN MATCHED THEN DO NOTHING", 2, "MERGE 2"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			exec, mock, _ := newMockExecutor(t)

			mock.ExpectBegin()
			mock.ExpectExec(tt.text).WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			res, err := exec.Execute(context.Background(), Statement{Text: tt.text}, ExecOnly)
			require.NoError(t, err)
			require.NotNil(t, res.Status)
			assert.Equal(t, tt.want, res.Status.Status)
			assert.Equal(t, tt.affected, res.Status.RowsAffected)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestExecutor_StatementError(t *testing.T) {
	exec, mock, _ := newMockExecutor(t)
	stmt := Statement{Text: "INSERT INTO items (id) VALUES ($1)", Params: []interface{}{1}}

	mock.ExpectBegin()
	mock.ExpectExec(stmt.Text).WithArgs(1).WillReturnError(&pq.Error{
		Code:    "23505",
		Message: `duplicate key value violates unique constraint "items_pkey"`,
	})
	mock.ExpectRollback()

	_, err := exec.Execute(context.Background(), stmt, ExecOnly)
	qe := requireQueryError(t, err)

	assert.Equal(t, KindStatement, qe.Kind)
	assert.Equal(t, "23505", qe.Code)
	assert.Equal(t, "unique_violation", qe.CodeName)
	assert.Equal(t, stmt.Text, qe.Statement)
	assert.Equal(t, stmt.Params, qe.Params)
	assert.Contains(t, qe.Message, "Database query error: unique_violation")
	assert.Equal(t, http.StatusBadRequest, qe.StatusCode())

	details := qe.Details()
	assert.Equal(t, "statement", details["kind"])
	assert.Equal(t, stmt.Text, details["query"])
	assert.Equal(t, stmt.Params, details["params"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_HidesStatementWhenConfigured(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, WithExposeStatements(false))
	stmt := Statement{Text: "SELECT secret FROM vault WHERE owner = $1", Params: []interface{}{"alice"}}

	mock.ExpectBegin()
	mock.ExpectQuery(stmt.Text).WithArgs("alice").WillReturnError(&pq.Error{Code: "42P01", Message: `relation "vault" does not exist`})
	mock.ExpectRollback()

	_, err := exec.Execute(context.Background(), stmt, FetchAll)
	qe := requireQueryError(t, err)

	details := qe.Details()
	assert.Equal(t, "undefined_table", details["code_name"])
	assert.NotContains(t, details, "query")
	assert.NotContains(t, details, "params")
	// still carried on the value for server side diagnostics
	assert.Equal(t, stmt.Text, qe.Statement)
}

func TestExecutor_UnexpectedErrors(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		exec, mock, _ := newMockExecutor(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT 1").WillReturnError(errors.New("connection reset by peer"))
		mock.ExpectRollback()

		_, err := exec.Execute(context.Background(), Statement{Text: "SELECT 1"}, FetchAll)
		qe := requireQueryError(t, err)
		assert.Equal(t, KindUnexpected, qe.Kind)
		assert.Empty(t, qe.Code)
		assert.Contains(t, qe.Message, "An unexpected error occurred during query execution")
		assert.Equal(t, http.StatusInternalServerError, qe.StatusCode())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin", func(t *testing.T) {
		exec, mock, _ := newMockExecutor(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many clients"))

		_, err := exec.Execute(context.Background(), Statement{Text: "SELECT 1"}, FetchAll)
		qe := requireQueryError(t, err)
		assert.Equal(t, KindUnexpected, qe.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("commit", func(t *testing.T) {
		exec, mock, _ := newMockExecutor(t)
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM items WHERE id = $1").WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit().WillReturnError(errors.New("could not serialize access"))

		_, err := exec.Execute(context.Background(), Statement{Text: "DELETE FROM items WHERE id = $1", Params: []interface{}{1}}, ExecOnly)
		qe := requireQueryError(t, err)
		assert.Equal(t, KindUnexpected, qe.Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestExecutor_ConfigurationAndPoolErrors(t *testing.T) {
	cfg := testDBConfig()
	cfg.Host = ""
	exec := NewExecutor(NewPoolManager(cfg, WithPoolLogger(quietLogger())), WithExecutorLogger(quietLogger()))

	_, err := exec.Execute(context.Background(), Statement{Text: "SELECT 1"}, FetchAll)
	qe := requireQueryError(t, err)
	assert.Equal(t, KindConfiguration, qe.Kind)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, http.StatusServiceUnavailable, qe.StatusCode())

	o := &mockOpener{err: errors.New("no route to host")}
	exec = NewExecutor(newTestPool(t, testDBConfig(), o), WithExecutorLogger(quietLogger()))
	_, err = exec.Execute(context.Background(), Statement{Text: "SELECT 1"}, FetchAll)
	qe = requireQueryError(t, err)
	assert.Equal(t, KindPoolUnavailable, qe.Kind)
	var ce *base.ConnectorError
	assert.True(t, errors.As(err, &ce))
}

func TestExecutor_ReleasesConnectionOnEveryPath(t *testing.T) {
	exec, mock, db := newMockExecutor(t)
	stmt := Statement{Text: "UPDATE items SET qty = $1 WHERE id = $2", Params: []interface{}{1, 2}}

	for i := 0; i < 20; i++ {
		mock.ExpectBegin()
		if i%2 == 0 {
			mock.ExpectExec(stmt.Text).WithArgs(1, 2).WillReturnError(&pq.Error{Code: "22P02", Message: "invalid input syntax"})
		} else {
			mock.ExpectExec(stmt.Text).WithArgs(1, 2).WillReturnError(errors.New("boom"))
		}
		mock.ExpectRollback()
	}

	for i := 0; i < 20; i++ {
		_, err := exec.Execute(context.Background(), stmt, ExecOnly)
		require.Error(t, err)
		assert.Equal(t, 0, db.Stats().InUse, "connection leaked on iteration %d", i)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_CanceledContext(t *testing.T) {
	exec, mock, db := newMockExecutor(t)
	_, err := exec.Pool().Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = exec.Execute(ctx, Statement{Text: "SELECT 1"}, FetchAll)
	qe := requireQueryError(t, err)
	assert.Equal(t, KindUnexpected, qe.Kind)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, db.Stats().InUse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExecutor_StatementTimeout(t *testing.T) {
	exec, mock, _ := newMockExecutor(t, WithStatementTimeout(20*time.Millisecond))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT pg_sleep(10)").WillDelayFor(time.Second).WillReturnRows(sqlmock.NewRows([]string{"x"}))
	mock.ExpectRollback()

	start := time.Now()
	_, err := exec.Execute(context.Background(), Statement{Text: "SELECT pg_sleep(10)"}, FetchAll)
	qe := requireQueryError(t, err)
	assert.Equal(t, KindUnexpected, qe.Kind)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "fetch_all", FetchAll.String())
	assert.Equal(t, "fetch_one", FetchOne.String())
	assert.Equal(t, "exec_only", ExecOnly.String())
	assert.Equal(t, "fetch_default", FetchDefault.String())
	assert.Equal(t, "mode(9)", Mode(9).String())
}
