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
	"encoding/json"
	"fmt"
	"time"

	"toolgate/platform/connectors/base"
	"toolgate/platform/shared/logger"
)

const (
	ToolSelect = "select_from_table"
	ToolInsert = "insert_into_table"
	ToolUpdate = "update_table"
	ToolDelete = "delete_from_table"
)

// PostgresConnector exposes the SQL tools over the shared pool
type PostgresConnector struct {
	name     string
	executor *Executor
	builder  *Builder
	logger   *logger.Logger
}

// NewPostgresConnector creates the SQL tool connector
func NewPostgresConnector(executor *Executor, builder *Builder) *PostgresConnector {
	return &PostgresConnector{
		name:     "postgres",
		executor: executor,
		builder:  builder,
		logger:   logger.New("postgres"),
	}
}

// Name returns the connector name
func (c *PostgresConnector) Name() string {
	return c.name
}

// Type returns the connector type
func (c *PostgresConnector) Type() string {
	return "postgres"
}

// Version returns the connector version
func (c *PostgresConnector) Version() string {
	return "1.0.0"
}

// Tools lists the SQL tools
func (c *PostgresConnector) Tools() []base.ToolSpec {
	return []base.ToolSpec{
		{Name: ToolSelect, Description: "Select rows with optional where clause, ordering and pagination", ReadOnly: true},
		{Name: ToolInsert, Description: "Insert one row, optionally returning columns"},
		{Name: ToolUpdate, Description: "Update rows matching a where clause"},
		{Name: ToolDelete, Description: "Delete rows matching a where clause"},
	}
}

type selectArgs struct {
	TableName   string        `json:"table_name"`
	Columns     Columns       `json:"columns"`
	WhereClause string        `json:"where_clause"`
	QueryParams []interface{} `json:"query_params"`
	OrderBy     string        `json:"order_by"`
	Limit       *int          `json:"limit"`
	Offset      *int          `json:"offset"`
}

type insertArgs struct {
	TableName        string   `json:"table_name"`
	Data             Values   `json:"data"`
	ReturningColumns []string `json:"returning_columns"`
}

type updateArgs struct {
	TableName   string        `json:"table_name"`
	SetValues   Values        `json:"set_values"`
	WhereClause string        `json:"where_clause"`
	QueryParams []interface{} `json:"query_params"`
}

type deleteArgs struct {
	TableName   string        `json:"table_name"`
	WhereClause string        `json:"where_clause"`
	QueryParams []interface{} `json:"query_params"`
}

// Call dispatches a tool. Select returns rows; insert returns rows when
// returning_columns is set and a Status otherwise; update and delete return a Status.
func (c *PostgresConnector) Call(ctx context.Context, tool string, args json.RawMessage) (interface{}, error) {
	switch tool {
	case ToolSelect:
		var a selectArgs
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		params, err := NormalizeParams(a.QueryParams)
		if err != nil {
			return nil, base.InvalidArgs("%v", err)
		}
		return c.SelectFromTable(ctx, SelectQuery{
			Table:   a.TableName,
			Columns: a.Columns,
			Where:   a.WhereClause,
			Params:  params,
			OrderBy: a.OrderBy,
			Limit:   a.Limit,
			Offset:  a.Offset,
		})

	case ToolInsert:
		var a insertArgs
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		res, err := c.InsertIntoTable(ctx, a.TableName, a.Data, a.ReturningColumns)
		if err != nil {
			return nil, err
		}
		if res.Status != nil {
			return res.Status, nil
		}
		return res.Rows, nil

	case ToolUpdate:
		var a updateArgs
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		params, err := NormalizeParams(a.QueryParams)
		if err != nil {
			return nil, base.InvalidArgs("%v", err)
		}
		return c.UpdateTable(ctx, a.TableName, a.SetValues, a.WhereClause, params)

	case ToolDelete:
		var a deleteArgs
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		params, err := NormalizeParams(a.QueryParams)
		if err != nil {
			return nil, base.InvalidArgs("%v", err)
		}
		return c.DeleteFromTable(ctx, a.TableName, a.WhereClause, params)

	default:
		return nil, fmt.Errorf("%w: %s/%s", base.ErrUnknownTool, c.name, tool)
	}
}

// SelectFromTable runs a select in FetchAll mode
func (c *PostgresConnector) SelectFromTable(ctx context.Context, q SelectQuery) ([]map[string]interface{}, error) {
	stmt, err := c.builder.Select(q)
	if err != nil {
		return nil, err
	}
	res, err := c.executor.Execute(ctx, stmt, FetchAll)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// InsertIntoTable inserts one row. With returning columns the statement runs
// in FetchDefault mode and yields the returned rows; without, only the
// command status is returned.
func (c *PostgresConnector) InsertIntoTable(ctx context.Context, table string, data Values, returning []string) (*Result, error) {
	stmt, err := c.builder.Insert(table, data, returning)
	if err != nil {
		return nil, err
	}
	mode := ExecOnly
	if len(returning) > 0 {
		mode = FetchDefault
	}
	return c.executor.Execute(ctx, stmt, mode)
}

// UpdateTable runs an update in ExecOnly mode
func (c *PostgresConnector) UpdateTable(ctx context.Context, table string, set Values, where string, params []interface{}) (*Status, error) {
	stmt, err := c.builder.Update(table, set, where, params)
	if err != nil {
		return nil, err
	}
	res, err := c.executor.Execute(ctx, stmt, ExecOnly)
	if err != nil {
		return nil, err
	}
	return res.Status, nil
}

// DeleteFromTable runs a delete in ExecOnly mode
func (c *PostgresConnector) DeleteFromTable(ctx context.Context, table, where string, params []interface{}) (*Status, error) {
	stmt, err := c.builder.Delete(table, where, params)
	if err != nil {
		return nil, err
	}
	res, err := c.executor.Execute(ctx, stmt, ExecOnly)
	if err != nil {
		return nil, err
	}
	return res.Status, nil
}

// HealthCheck verifies the pool can reach the database
func (c *PostgresConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	start := time.Now()
	db, err := c.executor.Pool().Acquire(ctx)
	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   time.Since(start),
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	err = db.PingContext(ctx)
	latency := time.Since(start)
	if err != nil {
		return &base.HealthStatus{
			Healthy:   false,
			Latency:   latency,
			Timestamp: time.Now(),
			Error:     err.Error(),
		}, nil
	}

	stats := db.Stats()
	return &base.HealthStatus{
		Healthy: true,
		Latency: latency,
		Details: map[string]string{
			"open_connections": fmt.Sprintf("%d", stats.OpenConnections),
			"in_use":           fmt.Sprintf("%d", stats.InUse),
			"idle":             fmt.Sprintf("%d", stats.Idle),
			"max_open":         fmt.Sprintf("%d", stats.MaxOpenConnections),
		},
		Timestamp: time.Now(),
	}, nil
}

// Disconnect is a no-op; the pool is shared with the API key gate and closed by its owner
func (c *PostgresConnector) Disconnect(ctx context.Context) error {
	c.logger.Info("", "", "PostgreSQL tools detached", nil)
	return nil
}

var _ base.Connector = (*PostgresConnector)(nil)
