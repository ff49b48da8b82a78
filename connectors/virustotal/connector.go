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

package virustotal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/netip"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"toolgate/platform/connectors/base"
	"toolgate/platform/connectors/config"
	"toolgate/platform/connectors/httpproxy"
)

const notConfiguredMessage = "VIRUSTOTAL_API_KEY must be configured."

var (
	// md5, sha1 or sha256 in hex
	hashPattern   = regexp.MustCompile(`^(?:[a-fA-F0-9]{32}|[a-fA-F0-9]{40}|[a-fA-F0-9]{64})$`)
	domainPattern = regexp.MustCompile(`^(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?)(?:\.(?i:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?))+$`)
)

// VirusTotalConnector looks up VirusTotal v3 reports with the x-apikey header
type VirusTotalConnector struct {
	client *httpproxy.Client
}

// NewVirusTotalConnector builds the connector; an empty API key leaves it unconfigured
func NewVirusTotalConnector(cfg config.VirusTotalConfig, opts ...httpproxy.Option) (*VirusTotalConnector, error) {
	c := &VirusTotalConnector{}
	if cfg.APIKey == "" {
		return c, nil
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultVirusTotalBaseURL
	}
	connCfg := &base.ConnectorConfig{
		Name:          "virustotal",
		Type:          "http",
		ConnectionURL: baseURL,
		Credentials:   map[string]string{"api_key": cfg.APIKey, "header_name": "x-apikey"},
		Options:       map[string]interface{}{"auth_type": httpproxy.AuthAPIKey},
	}
	httpproxy.Apply(connCfg, opts...)

	client, err := httpproxy.NewClient(connCfg)
	if err != nil {
		return nil, err
	}
	c.client = client
	return c, nil
}

// Configured reports whether an API key was supplied
func (c *VirusTotalConnector) Configured() bool { return c.client != nil }

func (c *VirusTotalConnector) Name() string    { return "virustotal" }
func (c *VirusTotalConnector) Type() string    { return "http" }
func (c *VirusTotalConnector) Version() string { return "1.0.0" }

func (c *VirusTotalConnector) Tools() []base.ToolSpec {
	return []base.ToolSpec{
		{Name: "get_file_report", Description: "GET /files/{hash} - report for an md5, sha1 or sha256", ReadOnly: true},
		{Name: "get_url_report", Description: "GET /urls/{id} - report for a URL", ReadOnly: true},
		{Name: "get_domain_report", Description: "GET /domains/{domain} - report for a domain", ReadOnly: true},
		{Name: "get_ip_report", Description: "GET /ip_addresses/{ip} - report for an IP address", ReadOnly: true},
		{Name: "get_ip_info", Description: "Country, AS owner and last analysis counts for an IP address", ReadOnly: true},
	}
}

// Call runs a VirusTotal lookup
func (c *VirusTotalConnector) Call(ctx context.Context, tool string, args json.RawMessage) (interface{}, error) {
	var path string

	switch tool {
	case "get_file_report":
		var a struct {
			Hash string `json:"hash"`
		}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		if !hashPattern.MatchString(a.Hash) {
			return nil, base.InvalidArgs("hash must be an md5, sha1 or sha256 hex digest")
		}
		path = "/files/" + strings.ToLower(a.Hash)

	case "get_url_report":
		var a struct {
			URL string `json:"url"`
		}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		if a.URL == "" {
			return nil, base.InvalidArgs("url is required")
		}
		path = "/urls/" + URLIdentifier(a.URL)

	case "get_domain_report":
		var a struct {
			Domain string `json:"domain"`
		}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		if len(a.Domain) > 253 || !domainPattern.MatchString(a.Domain) {
			return nil, base.InvalidArgs("invalid domain %q", base.SanitizeLogString(a.Domain))
		}
		path = "/domains/" + strings.ToLower(a.Domain)

	case "get_ip_report", "get_ip_info":
		var a struct {
			IP string `json:"ip"`
		}
		if err := base.DecodeArgs(args, &a); err != nil {
			return nil, err
		}
		addr, err := netip.ParseAddr(a.IP)
		if err != nil {
			return nil, base.InvalidArgs("invalid ip %q", base.SanitizeLogString(a.IP))
		}
		path = "/ip_addresses/" + url.PathEscape(addr.String())

	default:
		return nil, fmt.Errorf("%w: virustotal.%s", base.ErrUnknownTool, tool)
	}

	if c.client == nil {
		return nil, httpproxy.NotConfigured(notConfiguredMessage)
	}
	out, err := c.client.Do(ctx, httpproxy.Request{Path: path})
	if err != nil || tool != "get_ip_info" {
		return out, err
	}
	return summarizeIP(strings.TrimPrefix(path, "/ip_addresses/"), out), nil
}

// summarizeIP reduces an IP report to the fields analysts usually read first
func summarizeIP(ip string, report interface{}) map[string]interface{} {
	attrs := lookup(lookup(report, "data"), "attributes")
	stats := lookup(attrs, "last_analysis_stats")

	summary := map[string]interface{}{
		"ip":       ip,
		"country":  stringOr(lookup(attrs, "country"), "Unknown"),
		"as_owner": stringOr(lookup(attrs, "as_owner"), "Unknown"),
	}
	for _, k := range []string{"malicious", "suspicious", "harmless", "undetected"} {
		if v := lookup(stats, k); v != nil {
			summary[k] = v
		} else {
			summary[k] = 0
		}
	}
	return summary
}

func lookup(v interface{}, key string) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m[key]
	}
	return nil
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// URLIdentifier is the unpadded base64url form VirusTotal uses as a URL id
func URLIdentifier(raw string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// HealthCheck reports configuration only
func (c *VirusTotalConnector) HealthCheck(ctx context.Context) (*base.HealthStatus, error) {
	status := &base.HealthStatus{
		Healthy:   c.client != nil,
		Timestamp: time.Now(),
		Details:   map[string]string{"configured": strconv.FormatBool(c.client != nil)},
	}
	if c.client == nil {
		status.Error = notConfiguredMessage
	}
	return status, nil
}

func (c *VirusTotalConnector) Disconnect(ctx context.Context) error { return nil }
