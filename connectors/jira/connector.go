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

package jira

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"toolgate/platform/connectors/base"
	"toolgate/platform/connectors/config"
	"toolgate/platform/connectors/httpproxy"
)

// notConfiguredMessage is returned by every tool when credentials are missing
const notConfiguredMessage = "ATLASSIAN_DOMAIN, JIRA_USER_EMAIL, and JIRA_API_TOKEN must be configured."

// JiraConnector proxies a fixed set of Jira Cloud REST v3 calls.
// Requests authenticate with the user email and API token (HTTP Basic).
type JiraConnector struct {
	client *httpproxy.Client
	tools  map[string]tool
}

type tool struct {
	spec base.ToolSpec
	run  func(ctx context.Context, args json.RawMessage) (interface{}, error)
}

// NewJiraConnector builds the connector. With incomplete credentials the
// connector is still returned and every tool reports a configuration error.
func NewJiraConnector(cfg config.AtlassianConfig, opts ...httpproxy.Option) (*JiraConnector, error) {
	c := &JiraConnector{}
	c.tools = c.toolTable()

	if cfg.Domain == "" || cfg.JiraUserEmail == "" || cfg.JiraAPIToken == "" {
		return c, nil
	}

	connCfg := &base.ConnectorConfig{
		Name:          "jira",
		Type:          "http",
		ConnectionURL: fmt.Sprintf("https://%s/rest/api/3", cfg.Domain),
		Credentials: map[string]string{
			"username": cfg.JiraUserEmail,
			"password": cfg.JiraAPIToken,
		},
		Options: map[string]interface{}{"auth_type": httpproxy.AuthBasic},
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
func (c *JiraConnector) Configured() bool {
	return c.client != nil
}

func (c *JiraConnector) Name() string    { return "jira" }
func (c *JiraConnector) Type() string    { return "http" }
func (c *JiraConnector) Version() string { return "1.0.0" }

// Tools lists the Jira tools in a stable order
func (c *JiraConnector) Tools() []base.ToolSpec {
	specs := make([]base.ToolSpec, 0, len(toolOrder))
	for _, name := range toolOrder {
		specs = append(specs, c.tools[name].spec)
	}
	return specs
}

// Call runs a Jira tool
func (c *JiraConnector) Call(ctx context.Context, name string, args json.RawMessage) (interface{}, error) {
	t, ok := c.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: jira.%s", base.ErrUnknownTool, name)
	}
	if c.client == nil {
		return nil, httpproxy.NotConfigured(notConfiguredMessage)
	}
	return t.run(ctx, args)
}

// HealthCheck reports configuration only; Jira is not contacted
func (c *JiraConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
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

func (c *JiraConnector) Disconnect(ctx context.Context) error {
	return nil
}

var toolOrder = []string{
	"create_issue", "update_issue", "add_comment", "get_comments", "get_user_info",
	"get_issue", "get_issue_comment", "search_issues", "get_project", "list_projects",
	"get_edit_issue_meta", "add_watchers", "remove_watcher", "get_attachment_metadata",
	"create_remote_link", "download_attachment",
}

type issueArgs struct {
	IssueIDOrKey string `json:"issue_id_or_key"`
}

type payloadArgs struct {
	IssueIDOrKey string          `json:"issue_id_or_key"`
	Payload      json.RawMessage `json:"payload"`
}

type commentsArgs struct {
	IssueIDOrKey string `json:"issue_id_or_key"`
	StartAt      *int   `json:"start_at"`
	MaxResults   *int   `json:"max_results"`
}

type getIssueArgs struct {
	IssueIDOrKey string `json:"issue_id_or_key"`
	Fields       string `json:"fields"`
	Expand       string `json:"expand"`
}

type searchArgs struct {
	JQLQuery   string `json:"jql_query"`
	StartAt    *int   `json:"start_at"`
	MaxResults *int   `json:"max_results"`
	Fields     string `json:"fields"`
	Expand     string `json:"expand"`
}

type commentArgs struct {
	IssueIDOrKey string `json:"issue_id_or_key"`
	CommentID    string `json:"comment_id"`
}

type projectArgs struct {
	ProjectIDOrKey string `json:"project_id_or_key"`
}

type watcherArgs struct {
	IssueIDOrKey string `json:"issue_id_or_key"`
	AccountID    string `json:"account_id"`
}

type attachmentArgs struct {
	AttachmentID string `json:"attachment_id"`
}

type downloadArgs struct {
	AttachmentURL string `json:"attachment_url"`
}

func (c *JiraConnector) toolTable() map[string]tool {
	return map[string]tool{
		"create_issue": {
			spec: base.ToolSpec{Name: "create_issue", Description: "POST /issue - create an issue from a Jira payload"},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a struct {
					Payload json.RawMessage `json:"payload"`
				}
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if len(a.Payload) == 0 {
					return nil, base.InvalidArgs("payload is required")
				}
				return c.client.Do(ctx, httpproxy.Request{Method: http.MethodPost, Path: "/issue", Body: a.Payload})
			},
		},
		"update_issue": {
			spec: base.ToolSpec{Name: "update_issue", Description: "PUT /issue/{issueIdOrKey} - edit an issue"},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				a, err := decodePayload(raw)
				if err != nil {
					return nil, err
				}
				return c.client.Do(ctx, httpproxy.Request{Method: http.MethodPut, Path: issuePath(a.IssueIDOrKey), Body: a.Payload})
			},
		},
		"add_comment": {
			spec: base.ToolSpec{Name: "add_comment", Description: "POST /issue/{issueIdOrKey}/comment - add a comment"},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				a, err := decodePayload(raw)
				if err != nil {
					return nil, err
				}
				return c.client.Do(ctx, httpproxy.Request{Method: http.MethodPost, Path: issuePath(a.IssueIDOrKey) + "/comment", Body: a.Payload})
			},
		},
		"get_comments": {
			spec: base.ToolSpec{Name: "get_comments", Description: "GET /issue/{issueIdOrKey}/comment - list comments", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a commentsArgs
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if a.IssueIDOrKey == "" {
					return nil, base.InvalidArgs("issue_id_or_key is required")
				}
				q := url.Values{}
				setInt(q, "startAt", a.StartAt)
				setInt(q, "maxResults", a.MaxResults)
				return c.client.Do(ctx, httpproxy.Request{Path: issuePath(a.IssueIDOrKey) + "/comment", Query: q})
			},
		},
		"get_user_info": {
			spec: base.ToolSpec{Name: "get_user_info", Description: "GET /myself - the authenticated user", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a struct{}
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				return c.client.Do(ctx, httpproxy.Request{Path: "/myself"})
			},
		},
		"get_issue": {
			spec: base.ToolSpec{Name: "get_issue", Description: "GET /issue/{issueIdOrKey} - fetch an issue", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a getIssueArgs
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if a.IssueIDOrKey == "" {
					return nil, base.InvalidArgs("issue_id_or_key is required")
				}
				q := url.Values{}
				setString(q, "fields", a.Fields)
				setString(q, "expand", a.Expand)
				return c.client.Do(ctx, httpproxy.Request{Path: issuePath(a.IssueIDOrKey), Query: q})
			},
		},
		"get_issue_comment": {
			spec: base.ToolSpec{Name: "get_issue_comment", Description: "GET /issue/{issueIdOrKey}/comment/{id} - fetch one comment", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a commentArgs
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if a.IssueIDOrKey == "" || a.CommentID == "" {
					return nil, base.InvalidArgs("issue_id_or_key and comment_id are required")
				}
				return c.client.Do(ctx, httpproxy.Request{Path: issuePath(a.IssueIDOrKey) + "/comment/" + url.PathEscape(a.CommentID)})
			},
		},
		"search_issues": {
			spec: base.ToolSpec{Name: "search_issues", Description: "GET /search - search issues with JQL", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a searchArgs
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if a.JQLQuery == "" {
					return nil, base.InvalidArgs("jql_query is required")
				}
				q := url.Values{"jql": {a.JQLQuery}}
				setInt(q, "startAt", a.StartAt)
				setInt(q, "maxResults", a.MaxResults)
				setString(q, "fields", a.Fields)
				setString(q, "expand", a.Expand)
				return c.client.Do(ctx, httpproxy.Request{Path: "/search", Query: q})
			},
		},
		"get_project": {
			spec: base.ToolSpec{Name: "get_project", Description: "GET /project/{projectIdOrKey} - fetch a project", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a projectArgs
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if a.ProjectIDOrKey == "" {
					return nil, base.InvalidArgs("project_id_or_key is required")
				}
				return c.client.Do(ctx, httpproxy.Request{Path: "/project/" + url.PathEscape(a.ProjectIDOrKey)})
			},
		},
		"list_projects": {
			spec: base.ToolSpec{Name: "list_projects", Description: "GET /project - list visible projects", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a struct {
					StartAt    *int   `json:"start_at"`
					MaxResults *int   `json:"max_results"`
					Expand     string `json:"expand"`
				}
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				q := url.Values{}
				setInt(q, "startAt", a.StartAt)
				setInt(q, "maxResults", a.MaxResults)
				setString(q, "expand", a.Expand)
				return c.client.Do(ctx, httpproxy.Request{Path: "/project", Query: q})
			},
		},
		"get_edit_issue_meta": {
			spec: base.ToolSpec{Name: "get_edit_issue_meta", Description: "GET /issue/{issueIdOrKey}/editmeta - editable fields", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a issueArgs
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if a.IssueIDOrKey == "" {
					return nil, base.InvalidArgs("issue_id_or_key is required")
				}
				return c.client.Do(ctx, httpproxy.Request{Path: issuePath(a.IssueIDOrKey) + "/editmeta"})
			},
		},
		"add_watchers": {
			spec: base.ToolSpec{Name: "add_watchers", Description: "POST /issue/{issueIdOrKey}/watchers - add a watcher"},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				a, err := decodeWatcher(raw)
				if err != nil {
					return nil, err
				}
				// Jira expects the bare account id as a JSON string body
				return c.client.Do(ctx, httpproxy.Request{Method: http.MethodPost, Path: issuePath(a.IssueIDOrKey) + "/watchers", Body: a.AccountID})
			},
		},
		"remove_watcher": {
			spec: base.ToolSpec{Name: "remove_watcher", Description: "DELETE /issue/{issueIdOrKey}/watchers - remove a watcher"},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				a, err := decodeWatcher(raw)
				if err != nil {
					return nil, err
				}
				return c.client.Do(ctx, httpproxy.Request{
					Method: http.MethodDelete,
					Path:   issuePath(a.IssueIDOrKey) + "/watchers",
					Query:  url.Values{"accountId": {a.AccountID}},
				})
			},
		},
		"get_attachment_metadata": {
			spec: base.ToolSpec{Name: "get_attachment_metadata", Description: "GET /attachment/{id} - attachment metadata", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a attachmentArgs
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if a.AttachmentID == "" {
					return nil, base.InvalidArgs("attachment_id is required")
				}
				return c.client.Do(ctx, httpproxy.Request{Path: "/attachment/" + url.PathEscape(a.AttachmentID)})
			},
		},
		"create_remote_link": {
			spec: base.ToolSpec{Name: "create_remote_link", Description: "POST /issue/{issueIdOrKey}/remotelink - link an external resource"},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				a, err := decodePayload(raw)
				if err != nil {
					return nil, err
				}
				return c.client.Do(ctx, httpproxy.Request{Method: http.MethodPost, Path: issuePath(a.IssueIDOrKey) + "/remotelink", Body: a.Payload})
			},
		},
		"download_attachment": {
			spec: base.ToolSpec{Name: "download_attachment", Description: "GET attachment content URL - raw file bytes", ReadOnly: true},
			run: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
				var a downloadArgs
				if err := base.DecodeArgs(raw, &a); err != nil {
					return nil, err
				}
				if a.AttachmentURL == "" {
					return nil, base.InvalidArgs("attachment_url is required")
				}
				return c.client.Do(ctx, httpproxy.Request{Path: a.AttachmentURL, Raw: true})
			},
		},
	}
}

func decodePayload(raw json.RawMessage) (payloadArgs, error) {
	var a payloadArgs
	if err := base.DecodeArgs(raw, &a); err != nil {
		return a, err
	}
	if a.IssueIDOrKey == "" {
		return a, base.InvalidArgs("issue_id_or_key is required")
	}
	if len(a.Payload) == 0 {
		return a, base.InvalidArgs("payload is required")
	}
	return a, nil
}

func decodeWatcher(raw json.RawMessage) (watcherArgs, error) {
	var a watcherArgs
	if err := base.DecodeArgs(raw, &a); err != nil {
		return a, err
	}
	if a.IssueIDOrKey == "" || a.AccountID == "" {
		return a, base.InvalidArgs("issue_id_or_key and account_id are required")
	}
	return a, nil
}

func issuePath(idOrKey string) string {
	return "/issue/" + url.PathEscape(idOrKey)
}

func setInt(q url.Values, key string, v *int) {
	if v != nil {
		q.Set(key, strconv.Itoa(*v))
	}
}

func setString(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}
