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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"toolgate/platform/connectors/base"
)

// Statement is SQL text with its positional parameters.
// Placeholders are $1..$n and n == len(Params).
type Statement struct {
	Text   string
	Params []interface{}
}

// builder accumulates SQL fragments and parameters, tracking the next placeholder
type builder struct {
	sb     strings.Builder
	params []interface{}
}

func (b *builder) write(fragments ...string) {
	for _, f := range fragments {
		b.sb.WriteString(f)
	}
}

// bind appends v and returns its placeholder
func (b *builder) bind(v interface{}) string {
	b.params = append(b.params, v)
	return "$" + strconv.Itoa(len(b.params))
}

// adopt appends parameters already referenced by a caller fragment
func (b *builder) adopt(params []interface{}) {
	b.params = append(b.params, params...)
}

func (b *builder) statement() Statement {
	params := b.params
	if params == nil {
		params = []interface{}{}
	}
	return Statement{Text: b.sb.String(), Params: params}
}

// Value is a single column assignment
type Value struct {
	Column string
	Value  interface{}
}

// Values is an ordered set of column assignments.
// JSON objects decode in document key order.
type Values []Value

// UnmarshalJSON decodes a JSON object keeping key order
func (v *Values) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*v = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected a JSON object of column values")
	}

	out := Values{}
	seen := make(map[string]struct{})
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key := keyTok.(string)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate column %q", key)
		}
		seen[key] = struct{}{}

		var raw interface{}
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		val, err := NormalizeParam(raw)
		if err != nil {
			return fmt.Errorf("column %q: %w", key, err)
		}
		out = append(out, Value{Column: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*v = out
	return nil
}

// MarshalJSON encodes the values as an object in order
func (v Values) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Column)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// NormalizeParam converts decoded JSON values into driver friendly types.
// Integral numbers become int64, other numbers float64, and objects or
// arrays are re-encoded as JSON text for json/jsonb columns.
func NormalizeParam(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.String())
		}
		return f, nil
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return v, nil
	}
}

// NormalizeParams applies NormalizeParam to every element
func NormalizeParams(params []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(params))
	for i, p := range params {
		v, err := NormalizeParam(p)
		if err != nil {
			return nil, fmt.Errorf("query_params[%d]: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Columns is either an explicit column list or a raw select-list fragment
type Columns struct {
	List []string
	Raw  string
}

// UnmarshalJSON accepts a string or an array of strings
func (c *Columns) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*c = Columns{}
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &c.Raw)
	}
	return json.Unmarshal(trimmed, &c.List)
}

// SelectQuery describes a select_from_table call
type SelectQuery struct {
	Table   string
	Columns Columns
	Where   string
	Params  []interface{}
	OrderBy string
	Limit   *int
	Offset  *int
}

// Builder composes parameterized statements from tool arguments.
// Where, order by and raw column fragments are caller text and are not parsed;
// identifiers are validated and may be restricted to an allow-list of tables.
type Builder struct {
	allowed map[string]struct{}
}

// NewBuilder creates a builder. An empty allow-list permits every valid table name.
func NewBuilder(allowedTables []string) *Builder {
	b := &Builder{}
	for _, t := range allowedTables {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if b.allowed == nil {
			b.allowed = make(map[string]struct{})
		}
		b.allowed[t] = struct{}{}
	}
	return b
}

func (b *Builder) checkTable(table string) error {
	if err := base.ValidateSQLIdentifier(table); err != nil {
		return base.InvalidArgs("table_name: %v", err)
	}
	if b.allowed != nil {
		if _, ok := b.allowed[strings.ToLower(table)]; !ok {
			return base.InvalidArgs("table %q is not allowed", table)
		}
	}
	return nil
}

func checkColumns(field string, cols []string) error {
	for _, c := range cols {
		if c == "*" {
			continue
		}
		if err := base.ValidateSQLIdentifier(c); err != nil {
			return base.InvalidArgs("%s: %v", field, err)
		}
	}
	return nil
}

func checkPredicate(where string) error {
	if strings.TrimSpace(where) == "" {
		return base.InvalidArgs("where_clause is required")
	}
	return nil
}

// Select builds SELECT cols FROM t [WHERE w] [ORDER BY o] [LIMIT $M+1] [OFFSET $M+2].
// Limit and offset placeholders continue numbering after the predicate parameters.
func (b *Builder) Select(q SelectQuery) (Statement, error) {
	if err := b.checkTable(q.Table); err != nil {
		return Statement{}, err
	}
	if q.Limit != nil && *q.Limit < 0 {
		return Statement{}, base.InvalidArgs("limit must not be negative")
	}
	if q.Offset != nil && *q.Offset < 0 {
		return Statement{}, base.InvalidArgs("offset must not be negative")
	}

	cols := "*"
	switch {
	case len(q.Columns.List) > 0:
		if err := checkColumns("columns", q.Columns.List); err != nil {
			return Statement{}, err
		}
		cols = strings.Join(q.Columns.List, ", ")
	case strings.TrimSpace(q.Columns.Raw) != "":
		cols = q.Columns.Raw
	}

	var sb builder
	sb.write("SELECT ", cols, " FROM ", q.Table)
	if strings.TrimSpace(q.Where) != "" {
		sb.write(" WHERE ", q.Where)
	}
	// Raw column fragments may reference parameters too (e.g. "embedding <=> $1 AS distance").
	sb.adopt(q.Params)
	if strings.TrimSpace(q.OrderBy) != "" {
		sb.write(" ORDER BY ", q.OrderBy)
	}
	if q.Limit != nil {
		sb.write(" LIMIT ", sb.bind(*q.Limit))
	}
	if q.Offset != nil {
		sb.write(" OFFSET ", sb.bind(*q.Offset))
	}
	return sb.statement(), nil
}

// Insert builds INSERT INTO t (c1, c2) VALUES ($1, $2) [RETURNING r1, r2]
func (b *Builder) Insert(table string, data Values, returning []string) (Statement, error) {
	if err := b.checkTable(table); err != nil {
		return Statement{}, err
	}
	if len(data) == 0 {
		return Statement{}, base.InvalidArgs("data must contain at least one column")
	}
	cols := make([]string, len(data))
	for i, kv := range data {
		cols[i] = kv.Column
	}
	if err := checkColumns("data", cols); err != nil {
		return Statement{}, err
	}
	if err := checkColumns("returning_columns", returning); err != nil {
		return Statement{}, err
	}

	var sb builder
	sb.write("INSERT INTO ", table, " (", strings.Join(cols, ", "), ") VALUES (")
	for i, kv := range data {
		if i > 0 {
			sb.write(", ")
		}
		sb.write(sb.bind(kv.Value))
	}
	sb.write(")")
	if len(returning) > 0 {
		sb.write(" RETURNING ", strings.Join(returning, ", "))
	}
	return sb.statement(), nil
}

// Update builds UPDATE t SET c1 = $1, c2 = $2 WHERE w.
// Parameters are the set values followed by the predicate parameters, so the
// predicate's own placeholders must start at len(set)+1.
func (b *Builder) Update(table string, set Values, where string, params []interface{}) (Statement, error) {
	if err := b.checkTable(table); err != nil {
		return Statement{}, err
	}
	if len(set) == 0 {
		return Statement{}, base.InvalidArgs("set_values must contain at least one column")
	}
	if err := checkPredicate(where); err != nil {
		return Statement{}, err
	}

	var sb builder
	sb.write("UPDATE ", table, " SET ")
	for i, kv := range set {
		if err := base.ValidateSQLIdentifier(kv.Column); err != nil {
			return Statement{}, base.InvalidArgs("set_values: %v", err)
		}
		if i > 0 {
			sb.write(", ")
		}
		sb.write(kv.Column, " = ", sb.bind(kv.Value))
	}
	sb.write(" WHERE ", where)
	sb.adopt(params)
	return sb.statement(), nil
}

// Delete builds DELETE FROM t WHERE w
func (b *Builder) Delete(table, where string, params []interface{}) (Statement, error) {
	if err := b.checkTable(table); err != nil {
		return Statement{}, err
	}
	if err := checkPredicate(where); err != nil {
		return Statement{}, err
	}

	var sb builder
	sb.write("DELETE FROM ", table, " WHERE ", where)
	sb.adopt(params)
	return sb.statement(), nil
}
