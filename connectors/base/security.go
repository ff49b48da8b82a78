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

package base

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

// URLValidationOptions configures upstream base URL validation
type URLValidationOptions struct {
	// AllowPrivateIPs permits connections to private/internal IP addresses
	AllowPrivateIPs bool
	// AllowedSchemes specifies permitted URL schemes (default: ["https", "http"])
	AllowedSchemes []string
	// AllowedHostSuffixes restricts URLs to specific domain suffixes
	// e.g., [".atlassian.net", ".virustotal.com"]
	AllowedHostSuffixes []string
}

// DefaultURLValidationOptions returns secure defaults for URL validation
func DefaultURLValidationOptions() URLValidationOptions {
	return URLValidationOptions{
		AllowPrivateIPs: false,
		AllowedSchemes:  []string{"https", "http"},
	}
}

// ValidateURL checks scheme, host suffix and (unless allowed) that the host
// does not resolve to a private or reserved address.
func ValidateURL(rawURL string, opts URLValidationOptions) error {
	if rawURL == "" {
		return fmt.Errorf("URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	schemes := opts.AllowedSchemes
	if len(schemes) == 0 {
		schemes = []string{"https", "http"}
	}
	if !containsFold(schemes, parsedURL.Scheme) {
		return fmt.Errorf("URL scheme %q is not allowed; permitted schemes: %v", parsedURL.Scheme, schemes)
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	if hostname == "" {
		return fmt.Errorf("URL must contain a hostname")
	}

	if len(opts.AllowedHostSuffixes) > 0 && !hasSuffixFold(hostname, opts.AllowedHostSuffixes) {
		return fmt.Errorf("hostname %q is not in the allowed list", hostname)
	}

	if opts.AllowPrivateIPs {
		return nil
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		return fmt.Errorf("failed to resolve hostname %q: %w", hostname, err)
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("connection to private/internal IP %s is not allowed (hostname: %s)", ip, hostname)
		}
	}
	return nil
}

// reservedPrefixes are ranges never reachable as upstream APIs
var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, p := range reservedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}

func hasSuffixFold(host string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(host, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

var (
	ansiRegex       = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// SanitizeLogString removes or escapes characters that could be used for log injection
func SanitizeLogString(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiRegex.ReplaceAllString(s, "")
	const maxLogLength = 500
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}

// MaskSecret keeps the first four characters of a credential for log correlation
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}

var reservedWords = map[string]struct{}{
	"SELECT": {}, "INSERT": {}, "UPDATE": {}, "DELETE": {}, "DROP": {}, "CREATE": {}, "ALTER": {},
	"TABLE": {}, "DATABASE": {}, "INDEX": {}, "FROM": {}, "WHERE": {}, "AND": {}, "OR": {}, "NOT": {},
	"NULL": {}, "TRUE": {}, "FALSE": {}, "JOIN": {}, "ON": {}, "AS": {}, "ORDER": {}, "BY": {}, "GROUP": {},
	"HAVING": {}, "UNION": {}, "ALL": {}, "DISTINCT": {}, "LIMIT": {}, "OFFSET": {}, "INTO": {},
	"VALUES": {}, "SET": {}, "GRANT": {}, "REVOKE": {}, "TRUNCATE": {}, "CASCADE": {}, "RETURNING": {},
}

// ValidateSQLIdentifier checks that a table or column name is a plain identifier,
// optionally schema qualified ("schema.table"), and not a reserved word.
func ValidateSQLIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("identifier cannot be empty")
	}

	parts := strings.Split(identifier, ".")
	if len(parts) > 2 {
		return fmt.Errorf("invalid SQL identifier: %q", identifier)
	}
	for _, part := range parts {
		if !identifierRegex.MatchString(part) {
			return fmt.Errorf("invalid SQL identifier: %q", identifier)
		}
		if _, reserved := reservedWords[strings.ToUpper(part)]; reserved {
			return fmt.Errorf("identifier %q is a SQL reserved word", identifier)
		}
	}
	return nil
}
