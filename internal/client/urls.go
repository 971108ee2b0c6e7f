package client

import (
	"fmt"
	"strings"

	"github.com/ghcr-tools/container-retention-policy/internal/account"
)

// urls holds the URL bases derived once at startup from (server_url,
// api_url, account), per spec §4.1 "URL construction."
type urls struct {
	serverURL string
	apiURL    string
	account   account.Account
	ociBase   string // overridable in tests; production always uses ghcr.io
}

func newURLs(serverURL, apiURL string, acct account.Account) urls {
	return urls{
		serverURL: trimTrailingSlash(serverURL),
		apiURL:    trimTrailingSlash(apiURL),
		account:   acct,
		ociBase:   "https://ghcr.io",
	}
}

func trimTrailingSlash(u string) string {
	return strings.TrimSuffix(u, "/")
}

func (u urls) packagesAPIBase() string {
	return fmt.Sprintf("%s/%s/packages/container", u.apiURL, u.account.PathSegment())
}

func (u urls) packagesFrontendBase() string {
	return fmt.Sprintf("%s/%s/packages/container", u.serverURL, u.account.PathSegment())
}

func (u urls) rateLimit() string {
	return fmt.Sprintf("%s/rate_limit", u.apiURL)
}

func (u urls) listPackages() string {
	return fmt.Sprintf("%s/%s/packages?package_type=container&per_page=100", u.apiURL, u.account.PathSegment())
}

func (u urls) listVersions(name string) string {
	return fmt.Sprintf("%s/%s/versions?per_page=100", u.packagesAPIBase(), percentEncode(name))
}

func (u urls) deleteVersion(name, id string) string {
	return fmt.Sprintf("%s/%s/versions/%s", u.packagesAPIBase(), percentEncode(name), percentEncode(id))
}

// frontendVersionURL backs Client.FrontendVersionURL, which the selector
// uses in its conflict/partial-match warnings (spec §4.4 Step B.4).
func (u urls) frontendVersionURL(name, id string) string {
	return fmt.Sprintf("%s/%s/%s", u.packagesFrontendBase(), percentEncode(name), percentEncode(id))
}

func (u urls) fetchPackage(name string) string {
	return fmt.Sprintf("%s/%s", u.packagesAPIBase(), percentEncode(name))
}

// manifestURL targets the OCI v2 registry API, per spec §4.1:
// "https://ghcr.io/v2/{pct_enc(owner)}%2F{pct_enc(n)}/manifests/{tag}".
// ociBase defaults to ghcr.io in production and is overridden by tests.
func (u urls) manifestURL(owner, name, tag string) string {
	return fmt.Sprintf("%s/v2/%s%%2F%s/manifests/%s", u.ociBase, percentEncode(owner), percentEncode(name), tag)
}

// percentEncode escapes '/', spaces, and non-ASCII bytes, leaving the rest
// of printable ASCII untouched. net/url.PathEscape does not escape '/', so
// it cannot be used directly: spec requires "a/b" -> "a%2Fb".
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '/':
			b.WriteString("%2F")
		case c == ' ':
			b.WriteString("%20")
		case c < 0x80:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
