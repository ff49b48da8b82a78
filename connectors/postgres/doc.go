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
Package postgres implements the SQL tools: a shared connection pool, a
statement builder that composes parameterized SQL from tool arguments,
and an executor that runs each statement in its own transaction.

# Pool

PoolManager owns the single process-wide *sql.DB. It is created on the
first Acquire; concurrent first callers wait on the same creation and all
receive the same handle. A failed creation is returned to the caller and
leaves the manager empty. Close releases every connection and a later
Acquire builds a new pool.

	pool := postgres.NewPoolManager(cfg.Database)
	defer pool.Close()

# Statement Builder

Builder turns tool arguments into a Statement. Where, order by and raw
column fragments are passed through as written, together with their
parameters; the builder appends its own placeholders after them:

	stmt, _ := builder.Select(postgres.SelectQuery{
	    Table:  "items",
	    Where:  "qty > $1",
	    Params: []interface{}{1},
	    Limit:  &limit,   // 10
	    Offset: &offset,  // 5
	})
	// SELECT * FROM items WHERE qty > $1 LIMIT $2 OFFSET $3   [1 10 5]

Update numbers the SET clause first, so the caller's predicate must
continue from there:

	stmt, _ := builder.Update("items", postgres.Values{{"qty", 4}}, "id = $2", []interface{}{7})
	// UPDATE items SET qty = $1 WHERE id = $2   [4 7]

Table and column names must be plain or schema qualified identifiers and,
when GATEWAY_ALLOWED_TABLES is set, the table must be listed.

# Executor

Execute acquires the pool, begins a transaction, runs the statement in
one of four modes (FetchAll, FetchOne, ExecOnly, FetchDefault) and commits.
Any failure rolls back and is returned as *QueryError with one of the
kinds configuration, pool_unavailable, statement or unexpected. Statement
errors carry the SQLSTATE code and condition name reported by the server.

# Tools

PostgresConnector exposes select_from_table, insert_into_table,
update_table and delete_from_table through the base.Connector interface.
*/
package postgres
