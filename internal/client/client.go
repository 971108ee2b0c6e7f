// Package client is the only component that issues network requests
// against the GitHub packages API and the OCI manifest endpoint (spec
// §4.1). It owns per-endpoint rate limiting, pagination, percent-encoding,
// and response parsing; it never makes selection decisions.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ghcr-tools/container-retention-policy/internal/account"
	"github.com/ghcr-tools/container-retention-policy/internal/counts"
	"github.com/ghcr-tools/container-retention-policy/internal/logging"
	"github.com/ghcr-tools/container-retention-policy/internal/metrics"
	"github.com/ghcr-tools/container-retention-policy/internal/ratelimit"
	"github.com/ghcr-tools/container-retention-policy/internal/token"
)

const requiredScope = "delete:packages"

// Timestamp selects which of a PackageVersion's two timestamp fields is
// "relevant" for cut-off and keep-n-most-recent comparisons (spec §3, §4.7
// timestamp_to_use).
type Timestamp int

const (
	CreatedAt Timestamp = iota
	UpdatedAt
)

// Package is one named collection of container images under an account
// (spec §3).
type Package struct {
	ID         uint32
	Name       string
	OwnerLogin string
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}

// PackageVersion is one immutable content-addressed artifact belonging to
// a Package; Name is the content digest (e.g. "sha256:..."), Tags may be
// empty (spec §3).
type PackageVersion struct {
	ID        uint32
	Name      string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// IsUntagged reports whether this version carries no tags.
func (v PackageVersion) IsUntagged() bool { return len(v.Tags) == 0 }

// RelevantTimestamp returns CreatedAt or UpdatedAt depending on which, per
// the configured Timestamp option, falling back to CreatedAt when
// UpdatedAt is unset (spec §3).
func (v PackageVersion) RelevantTimestamp(which Timestamp) time.Time {
	if which == UpdatedAt && v.UpdatedAt != nil {
		return *v.UpdatedAt
	}
	return v.CreatedAt
}

// DisplayNames returns the list used in deletion logs and results: one
// entry per tag, or a single "<untagged>" entry.
func (v PackageVersion) DisplayNames() []string {
	if v.IsUntagged() {
		return []string{"<untagged>"}
	}
	names := make([]string, len(v.Tags))
	copy(names, v.Tags)
	return names
}

// PackageVersions is the untagged/tagged pair spec §3 describes.
type PackageVersions struct {
	Untagged []PackageVersion
	Tagged   []PackageVersion
}

// Len returns |untagged| + |tagged|.
func (p PackageVersions) Len() int { return len(p.Untagged) + len(p.Tagged) }

// Extend concatenates both lists from other onto p.
func (p *PackageVersions) Extend(other PackageVersions) {
	p.Untagged = append(p.Untagged, other.Untagged...)
	p.Tagged = append(p.Tagged, other.Tagged...)
}

// services bundles the four independently rate-limited endpoints spec
// §4.1 names.
type services struct {
	listPackages   *ratelimit.Service
	listVersions   *ratelimit.Service
	fetchPackage   *ratelimit.Service
	deleteVersions *ratelimit.Service
}

// Client is the registry client: constructed once, shared by pointer,
// never reconfigured mid-run (spec §9 "Ownership of the HTTP client").
type Client struct {
	http    *http.Client
	urls    urls
	token   token.Token
	account account.Account
	log     *logging.Logger

	counts *counts.Counts // nil until SetCounts is called
	svc    services

	ownerMu    sync.RWMutex
	ownerLogin string
}

// New constructs a Client. Counts is attached separately via SetCounts
// once fetch_rate_limit has produced the initial budget, since counts
// itself is seeded from that call's response (spec control flow, §2).
func New(serverURL, apiURL string, acct account.Account, tok token.Token, log *logging.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second},
		urls:    newURLs(serverURL, apiURL, acct),
		token:   tok,
		account: acct,
		log:     log,
		svc: services{
			listPackages:   ratelimit.NewService("list-packages", ratelimit.CostGet),
			listVersions:   ratelimit.NewService("list-versions", ratelimit.CostGet),
			fetchPackage:   ratelimit.NewService("fetch-package", ratelimit.CostGet),
			deleteVersions: ratelimit.NewService("delete-versions", ratelimit.CostDelete),
		},
	}
}

// SetCounts attaches the shared Counts coordinator. Every request issued
// after this call decrements its RemainingRequests.
func (c *Client) SetCounts(cnt *counts.Counts) { c.counts = cnt }

// OwnerLogin returns the owner login recorded from the first packages
// page, or "" if none has been recorded yet.
func (c *Client) OwnerLogin() string {
	c.ownerMu.RLock()
	defer c.ownerMu.RUnlock()
	return c.ownerLogin
}

// SetOwnerLogin records the owner login used to construct OCI manifest
// URLs (spec §4.3 step 2).
func (c *Client) SetOwnerLogin(login string) {
	c.ownerMu.Lock()
	defer c.ownerMu.Unlock()
	if c.ownerLogin == "" {
		c.ownerLogin = login
	}
}

// FrontendVersionURL builds the human-clickable packages-frontend URL for
// a package version, used in tag-matcher conflict/partial-match warnings
// (spec §4.4 Step B.4).
func (c *Client) FrontendVersionURL(name string, id uint32) string {
	return c.urls.frontendVersionURL(name, strconv.FormatUint(uint64(id), 10))
}

// SetOCIBaseForTesting points manifest fetches at a local mock server
// instead of ghcr.io. Exists only so tests (in this package and in
// internal/selector) don't need to reach the real registry.
func (c *Client) SetOCIBaseForTesting(base string) { c.urls.ociBase = base }

func (c *Client) newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Secret())
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "snok/container-retention-policy")
	return req, nil
}

// send acquires svc's permit, performs the request, reads the body, and
// (on success) decrements the shared Counts and bumps the requests-issued
// metric. The caller is responsible for interpreting resp.StatusCode.
func (c *Client) send(ctx context.Context, svc *ratelimit.Service, req *http.Request) (*http.Response, []byte, error) {
	release, err := svc.Acquire(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", svc.Name(), err)
	}
	defer release()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: request failed: %w", svc.Name(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, fmt.Errorf("%s: read body: %w", svc.Name(), err)
	}

	if c.counts != nil {
		c.counts.DecrementRemaining()
	}
	metrics.RequestsTotal.WithLabelValues(svc.Name()).Inc()

	return resp, body, nil
}

// FetchRateLimit calls GET {api_base}/rate_limit. It fails fatally on
// HTTP 401, and — for any non-Temporal token — requires the response's
// x-oauth-scopes header to contain "delete:packages" (spec §4.1, §7).
func (c *Client) FetchRateLimit(ctx context.Context) (remaining uint64, reset time.Time, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.urls.rateLimit())
	if err != nil {
		return 0, time.Time{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("fetch rate limit: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode == http.StatusUnauthorized {
		return 0, time.Time{}, fmt.Errorf("fetch rate limit: unauthorized (401); check that the token is valid")
	}
	if resp.StatusCode != http.StatusOK {
		return 0, time.Time{}, fmt.Errorf("fetch rate limit: unexpected status %d: %s", resp.StatusCode, body)
	}

	headers := parseRateLimitHeaders(resp.Header)

	isTemporal := token.IsTemporal(c.token)
	if !isTemporal && !headers.hasScope(requiredScope) {
		return 0, time.Time{}, fmt.Errorf("token is missing the required %q scope", requiredScope)
	}

	remaining = uint64(headers.remaining)
	reset = headers.reset
	if headers.remaining < 0 {
		if isTemporal {
			remaining = 1000
		} else {
			remaining = 0
		}
	}
	if reset.IsZero() && isTemporal {
		reset = time.Now()
	}

	metrics.RequestsTotal.WithLabelValues("rate-limit").Inc()
	return remaining, reset, nil
}

type packageListItem struct {
	ID    uint32 `json:"id"`
	Name  string `json:"name"`
	Owner struct {
		Login string `json:"login"`
	} `json:"owner"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (p packageListItem) toPackage() Package {
	return Package{
		ID:         p.ID,
		Name:       p.Name,
		OwnerLogin: p.Owner.Login,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// ListPackages fetches every container package for the configured
// account, following rel="next" Link headers until exhausted or the
// shared budget runs out (spec §4.1, §4.1 "Pagination").
func (c *Client) ListPackages(ctx context.Context) ([]Package, error) {
	var all []Package
	url := c.urls.listPackages()

	for url != "" {
		if c.counts != nil && c.counts.RemainingRequests() == 0 {
			break
		}

		req, err := c.newRequest(ctx, http.MethodGet, url)
		if err != nil {
			return all, err
		}
		resp, body, err := c.send(ctx, c.svc.listPackages, req)
		if err != nil {
			return all, err
		}
		if resp.StatusCode != http.StatusOK {
			return all, fmt.Errorf("list packages: status %d: %s", resp.StatusCode, body)
		}

		var items []packageListItem
		if err := json.Unmarshal(body, &items); err != nil {
			return all, fmt.Errorf("list packages: decode response %s: %w", body, err)
		}
		for _, it := range items {
			all = append(all, it.toPackage())
		}

		url = parseRateLimitHeaders(resp.Header).next
	}

	return all, nil
}

// FetchPackage looks up a single package by exact name — the only lookup
// a Temporal token is permitted to make (spec §4.3).
func (c *Client) FetchPackage(ctx context.Context, name string) (Package, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.urls.fetchPackage(name))
	if err != nil {
		return Package{}, err
	}
	resp, body, err := c.send(ctx, c.svc.fetchPackage, req)
	if err != nil {
		return Package{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Package{}, fmt.Errorf("fetch package %q: status %d: %s", name, resp.StatusCode, body)
	}

	var item packageListItem
	if err := json.Unmarshal(body, &item); err != nil {
		return Package{}, fmt.Errorf("fetch package %q: decode response %s: %w", name, body, err)
	}
	return item.toPackage(), nil
}

type packageVersionListItem struct {
	ID       uint32 `json:"id"`
	Name     string `json:"name"`
	Metadata struct {
		Container struct {
			Tags []string `json:"tags"`
		} `json:"container"`
	} `json:"metadata"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

func (v packageVersionListItem) toPackageVersion() PackageVersion {
	return PackageVersion{
		ID:        v.ID,
		Name:      v.Name,
		Tags:      v.Metadata.Container.Tags,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
}

// ListPackageVersions pages through every version of the named package.
// filterFn is applied per raw version as each page is deserialized; only
// survivors are partitioned into the returned PackageVersions' Untagged
// and Tagged lists (spec §4.1). rateLimitOffset reserves headroom for
// requests the caller already knows it will need later (keep_n_most_recent
// slots, spec §4.4's "short-circuit on budget pressure"); pagination stops
// early once counts.PackageVersions()+rateLimitOffset would exceed the
// shared remaining-request budget.
func (c *Client) ListPackageVersions(ctx context.Context, name string, filterFn func(PackageVersion) bool, rateLimitOffset uint64) (PackageVersions, error) {
	var result PackageVersions
	url := c.urls.listVersions(name)

	for url != "" {
		if c.counts != nil && c.counts.WouldExceedBudget(rateLimitOffset) {
			break
		}

		req, err := c.newRequest(ctx, http.MethodGet, url)
		if err != nil {
			return result, err
		}
		resp, body, err := c.send(ctx, c.svc.listVersions, req)
		if err != nil {
			return result, err
		}
		if resp.StatusCode != http.StatusOK {
			return result, fmt.Errorf("list package versions for %q: status %d: %s", name, resp.StatusCode, body)
		}

		var items []packageVersionListItem
		if err := json.Unmarshal(body, &items); err != nil {
			return result, fmt.Errorf("list package versions for %q: decode response %s: %w", name, body, err)
		}
		for _, it := range items {
			v := it.toPackageVersion()
			if !filterFn(v) {
				continue
			}
			if v.IsUntagged() {
				result.Untagged = append(result.Untagged, v)
			} else {
				result.Tagged = append(result.Tagged, v)
			}
		}

		url = parseRateLimitHeaders(resp.Header).next
	}

	return result, nil
}

// FetchImageManifest calls the OCI manifest endpoint for (package, tag)
// and returns one ManifestChild per child manifest digest referenced by
// an OCI Image Index, or nil for a single-platform Docker Distribution
// Manifest v2 response. Any network error, non-2xx status, or
// unrecognized JSON shape is logged at Warn and treated as "no child
// digests" — this call never returns an error (spec §4.1, §7, §9).
func (c *Client) FetchImageManifest(ctx context.Context, pkg Package, tag string) []ManifestChild {
	owner := c.OwnerLogin()
	if owner == "" {
		owner = pkg.OwnerLogin
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.urls.manifestURL(owner, pkg.Name, tag), nil)
	if err != nil {
		c.log.Warn("fetch image manifest: build request", "package", pkg.Name, "tag", tag, "error", err)
		return nil
	}
	req.Header.Set("Accept", acceptManifestHeader)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("fetch image manifest: request failed", "package", pkg.Name, "tag", tag, "error", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.log.Warn("fetch image manifest: read body", "package", pkg.Name, "tag", tag, "error", err)
		return nil
	}

	if c.counts != nil {
		c.counts.DecrementRemaining()
	}
	metrics.RequestsTotal.WithLabelValues("fetch-manifest").Inc()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("fetch image manifest: non-2xx status", "package", pkg.Name, "tag", tag, "status", resp.StatusCode)
		return nil
	}

	children, err := parseManifest(body)
	if err != nil {
		c.log.Warn("fetch image manifest: unrecognized shape", "package", pkg.Name, "tag", tag, "error", err)
		return nil
	}
	return children
}

// DeletePackageVersion deletes one package version. names is the display
// list (one entry per tag, or "<untagged>"), computed regardless of
// dryRun so a dry run reports exactly what it would have deleted. On
// dryRun it logs and returns (nil, nil) without sending a request. On 204
// it returns (names, nil). On 422/400 or any other non-2xx it logs and
// returns (names, error) (spec §4.1, §7).
func (c *Client) DeletePackageVersion(ctx context.Context, pkg Package, version PackageVersion, dryRun bool) ([]string, error) {
	names := version.DisplayNames()

	if dryRun {
		c.log.Info("dry run: would delete package version", "package", pkg.Name, "names", names)
		return nil, nil
	}

	url := c.urls.deleteVersion(pkg.Name, strconv.FormatUint(uint64(version.ID), 10))
	req, err := c.newRequest(ctx, http.MethodDelete, url)
	if err != nil {
		return names, err
	}

	resp, body, err := c.send(ctx, c.svc.deleteVersions, req)
	if err != nil {
		return names, err
	}

	switch resp.StatusCode {
	case http.StatusNoContent:
		c.log.Info("deleted package version", "package", pkg.Name, "names", names)
		return names, nil
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		c.log.Warn("failed to delete package version", "package", pkg.Name, "names", names, "status", resp.StatusCode)
		return names, fmt.Errorf("delete package version %s/%d: status %d", pkg.Name, version.ID, resp.StatusCode)
	default:
		c.log.Warn("failed to delete package version", "package", pkg.Name, "names", names, "status", resp.StatusCode, "body", string(body))
		return names, fmt.Errorf("delete package version %s/%d: status %d: %s", pkg.Name, version.ID, resp.StatusCode, body)
	}
}
