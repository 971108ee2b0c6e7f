// Package token models the three GitHub token shapes the retention engine
// accepts, and classifies a raw secret into one of them.
package token

import (
	"fmt"
	"regexp"
	"strings"
)

// Token is the tagged-variant credential used to authenticate against the
// GitHub API. The concrete kind changes how the Package Selector behaves
// (see selector.SelectPackages) and what scopes fetch_rate_limit requires.
type Token interface {
	// Secret returns the raw bearer token value.
	Secret() string
	// Kind returns a short human-readable name for logging.
	Kind() string

	isToken()
}

// ClassicPersonalAccess is a "ghp_" classic personal access token.
type ClassicPersonalAccess struct{ secret string }

func (t ClassicPersonalAccess) Secret() string { return t.secret }
func (ClassicPersonalAccess) Kind() string     { return "classic personal access token" }
func (ClassicPersonalAccess) isToken()         {}

// Oauth is a "gho_" OAuth app token.
type Oauth struct{ secret string }

func (t Oauth) Secret() string { return t.secret }
func (Oauth) Kind() string     { return "oauth token" }
func (Oauth) isToken()         {}

// Temporal is a "ghs_" short-lived, workflow-scoped GitHub Actions token.
// Temporal tokens cannot list packages (see selector.SelectPackages) and
// default to a generous rate-limit budget when the probe response omits
// rate-limit headers (see client.FetchRateLimit).
type Temporal struct{ secret string }

func (t Temporal) Secret() string { return t.secret }
func (Temporal) Kind() string     { return "temporal token" }
func (Temporal) isToken()         {}

// tokenPattern matches one of the three prefixes followed by the
// 36-character url-safe base62 token body they all share.
var tokenPattern = regexp.MustCompile(`^(ghp|ghs|gho)_([A-Za-z0-9]{36})$`)

// Parse classifies a raw token string into its tagged variant. Surrounding
// double quotes are stripped before matching, per spec.
func Parse(raw string) (Token, error) {
	raw = strings.Trim(raw, `"`)

	m := tokenPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, fmt.Errorf("token does not match a recognized ghp_/ghs_/gho_ format (36 url-safe base62 chars)")
	}

	switch m[1] {
	case "ghp":
		return ClassicPersonalAccess{secret: raw}, nil
	case "ghs":
		return Temporal{secret: raw}, nil
	case "gho":
		return Oauth{secret: raw}, nil
	default:
		return nil, fmt.Errorf("unrecognized token prefix %q", m[1])
	}
}

// IsTemporal reports whether tok is a Temporal (workflow-scoped) token.
func IsTemporal(tok Token) bool {
	_, ok := tok.(Temporal)
	return ok
}
