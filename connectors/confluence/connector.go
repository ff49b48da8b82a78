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

package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"toolgate/platform/connectors/base"
	"toolgate/platform/connectors/config"
	"toolgate/platform/connectors/httpproxy"
)

const (
	// ConnectorName is the registry name; agents address Confluence as "wiki"
	ConnectorName = "wiki"

	// DefaultPageLimit is used when list tools are called without a limit
	DefaultPageLimit = 25
	// MaxPageLimit is the largest limit Confluence accepts
	MaxPageLimit = 250

	notConfiguredMessage = "ATLASSIAN_DOMAIN and CONFLUENCE_PAT must be configured."
)

// ConfluenceConnector proxies read-only Confluence REST v1 calls using a personal access token
type ConfluenceConnector struct {
	client *httpproxy.Client
}

// NewConfluenceConnector builds the connector. Missing domain or PAT leaves it
// unconfigured; tools then fail without contacting Confluence.
func NewConfluenceConnector(cfg config.AtlassianConfig, opts ...httpproxy.Option) (*ConfluenceConnector, error) {
	c := &ConfluenceConnector{}
	if cfg.Domain == "" || cfg.ConfluencePAT == "" {
		return c, nil
	}

	connCfg := &base.ConnectorConfig{
		Name:          ConnectorName,
		Type:          "http",
		ConnectionURL: fmt.Sprintf("https://%s/wiki/rest/api", cfg.Domain),
		Credentials:   map[string]string{"token": cfg.ConfluencePAT},
		Options:       map[string]interface{}{"auth_type": httpproxy.AuthBearer},
	}
	httpproxy.Apply(connCfg, opts...)

	client, err := httpproxy.NewClient(connCfg)
	if err != nil {
		return nil, err
	}
	c.client = client
	return c, nil
}

// Configured reports whether credentials were supplied
func (c *ConfluenceConnector) Configured() bool { return c.client != nil }

func (c *ConfluenceConnector) Name() string    { return ConnectorName }
func (c *ConfluenceConnector) Type() string    { return "http" }
func (c *ConfluenceConnector) Version() string { return "1.0.0" }

func (c *ConfluenceConnector) Tools() []base.ToolSpec {
	return []base.ToolSpec{
		{Name: "get_user_info", Description: "GET /user/current - the authenticated user", ReadOnly: true},
		{Name: "search_content", Description: "GET /content/search - search content with CQL", ReadOnly: true},
		{Name: "get_page_content", Description: "GET /content/{id} - fetch a page", ReadOnly: true},
		{Name: "get_space_info", Description: "GET /space/{spaceKey} - fetch a space", ReadOnly: true},
		{Name: "list_spaces", Description: "GET /space - list spaces (limit 1-250, cursor)", ReadOnly: true},
		{Name: "get_page_children", Description: "GET /content/{id}/child - children of a page", ReadOnly: true},
	}
}

type pageArgs struct {
	PageID string  `json:"page_id"`
	Limit  *int    `json:"limit"`
	Cursor *string `json:"cursor"`
}

// Call runs a Confluence tool
func (c *ConfluenceConnector) Call(ctx context.Context, tool string, args json.RawMessage) (interface{}, error) {
	var req httpproxy.Request

	switch tool {
	case "get_user_info":
		var a struct{}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		req.Path = "/user/current"

	case "search_content":
		var a struct {
			CQL string `json:"cql"`
		}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.CQL == "" {
			return nil, base.InvalidArgs("cql is required")
		}
		req.Path = "/content/search"
		req.Query = url.Values{"cql": {a.CQL}}

	case "get_page_content":
		var a struct {
			PageID string `json:"page_id"`
		}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.PageID == "" {
			return nil, base.InvalidArgs("page_id is required")
		}
		req.Path = "/content/" + url.PathEscape(a.PageID)

	case "get_space_info":
		var a struct {
			SpaceID string `json:"space_id"`
		}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.SpaceID == "" {
			return nil, base.InvalidArgs("space_id is required")
		}
		req.Path = "/space/" + url.PathEscape(a.SpaceID)

	case "list_spaces":
		var a struct {
			Limit  *int    `json:"limit"`
			Cursor *string `json:"cursor"`
		}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		q, err := pagination(a.Limit, a.Cursor)
		if err != nil {
			return nil, err
		}
		req.Path = "/space"
		req.Query = q

	case "get_page_children":
		var a pageArgs
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.PageID == "" {
			return nil, base.InvalidArgs("page_id is required")
		}
		q, err := pagination(a.Limit, a.Cursor)
		if err != nil {
			return nil, err
		}
		req.Path = "/content/" + url.PathEscape(a.PageID) + "/child"
		req.Query = q

	default:
		return nil, fmt.Errorf("%w: %s.%s", base.ErrUnknownTool, ConnectorName, tool)
	}

	if c.client == nil {
		return nil, httpproxy.NotConfigured(notConfiguredMessage)
	}
	return c.client.Do(ctx, req)
}

func pagination(limitArg *int, cursor *string) (url.Values, error) {
	limit := DefaultPageLimit
	if limitArg != nil {
		limit = *limitArg
	}
	if limit < 1 || limit > MaxPageLimit {
		return nil, base.InvalidArgs("limit must be between 1 and %d", MaxPageLimit)
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if cursor != nil && *cursor != "" {
		q.Set("cursor", *cursor)
	}
	return q, nil
}

// HealthCheck reports configuration only
func (c *ConfluenceConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	status := &base.HealthStatus{
		Healthy:   c.client != nil,
		Timestamp: time.Now(),
		Details:   map[string]string{"configured": strconv.FormatBool(c.client != nil)},
	}
	if c.client == nil {
		status.Error = notConfiguredMessage
	} else {
		status.Details["base_url"] = c.client.BaseURL()
	}
	return status, nil
}

func (c *ConfluenceConnector) Disconnect(ctx context.Context) error { return nil }
