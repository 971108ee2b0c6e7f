package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ghcr-tools/container-retention-policy/internal/account"
	"github.com/ghcr-tools/container-retention-policy/internal/counts"
	"github.com/ghcr-tools/container-retention-policy/internal/logging"
	"github.com/ghcr-tools/container-retention-policy/internal/token"
)

func testToken(t *testing.T) token.Token {
	t.Helper()
	tok, err := token.Parse("ghp_" + strings.Repeat("a", 36))
	if err != nil {
		t.Fatalf("parse test token: %v", err)
	}
	return tok
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return New(serverURL, serverURL, account.User{}, testToken(t), logging.New(false))
}

func TestFetchRateLimit_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-remaining", "4500")
		w.Header().Set("x-ratelimit-reset", "2000000000")
		w.Header().Set("x-oauth-scopes", "repo, delete:packages")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	remaining, reset, err := c.FetchRateLimit(context.Background())
	if err != nil {
		t.Fatalf("FetchRateLimit: %v", err)
	}
	if remaining != 4500 {
		t.Fatalf("remaining = %d, want 4500", remaining)
	}
	if reset.Unix() != 2000000000 {
		t.Fatalf("reset = %v", reset)
	}
}

func TestFetchRateLimit_MissingScopeRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-remaining", "100")
		w.Header().Set("x-oauth-scopes", "repo")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, _, err := c.FetchRateLimit(context.Background()); err == nil {
		t.Fatal("expected error for missing delete:packages scope")
	}
}

func TestFetchRateLimit_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, _, err := c.FetchRateLimit(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

func TestFetchRateLimit_TemporalDefaultsWhenHeadersMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tok, err := token.Parse("ghs_" + strings.Repeat("b", 36))
	if err != nil {
		t.Fatalf("parse temporal token: %v", err)
	}
	c := New(srv.URL, srv.URL, account.User{}, tok, logging.New(false))

	remaining, reset, err := c.FetchRateLimit(context.Background())
	if err != nil {
		t.Fatalf("FetchRateLimit: %v", err)
	}
	if remaining != 1000 {
		t.Fatalf("remaining = %d, want 1000", remaining)
	}
	if reset.IsZero() {
		t.Fatal("expected a non-zero default reset")
	}
}

func TestListPackages_Pagination(t *testing.T) {
	page := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page++
		switch page {
		case 1:
			w.Header().Set("link", fmt.Sprintf(`<%s/page2>; rel="next"`, "http://"+r.Host))
			json.NewEncoder(w).Encode([]packageListItem{
				{ID: 1, Name: "app-one", Owner: struct {
					Login string `json:"login"`
				}{Login: "octo-org"}},
			})
		default:
			json.NewEncoder(w).Encode([]packageListItem{
				{ID: 2, Name: "app-two", Owner: struct {
					Login string `json:"login"`
				}{Login: "octo-org"}},
			})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	pkgs, err := c.ListPackages(context.Background())
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(pkgs) != 2 {
		t.Fatalf("got %d packages, want 2", len(pkgs))
	}
	if pkgs[0].Name != "app-one" || pkgs[1].Name != "app-two" {
		t.Fatalf("unexpected packages: %+v", pkgs)
	}
}

func TestListPackageVersions_FilterAndPartition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]packageVersionListItem{
			{ID: 1, Name: "sha256:aaa"},
			{ID: 2, Name: "sha256:bbb", Metadata: struct {
				Container struct {
					Tags []string `json:"tags"`
				} `json:"container"`
			}{Container: struct {
				Tags []string `json:"tags"`
			}{Tags: []string{"latest"}}}},
			{ID: 3, Name: "sha256:ccc"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	result, err := c.ListPackageVersions(context.Background(), "myapp", func(v PackageVersion) bool {
		return v.ID != 3
	}, 0)
	if err != nil {
		t.Fatalf("ListPackageVersions: %v", err)
	}
	if len(result.Untagged) != 1 || result.Untagged[0].ID != 1 {
		t.Fatalf("untagged = %+v", result.Untagged)
	}
	if len(result.Tagged) != 1 || result.Tagged[0].ID != 2 {
		t.Fatalf("tagged = %+v", result.Tagged)
	}
}

func TestListPackageVersions_ShortCircuitsOnBudget(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("link", fmt.Sprintf(`<%s/next>; rel="next"`, "http://"+r.Host))
		json.NewEncoder(w).Encode([]packageVersionListItem{{ID: 1, Name: "sha256:aaa"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cnt := counts.New(0, time.Time{})
	cnt.AddPackageVersions(1)
	c.SetCounts(cnt)

	result, err := c.ListPackageVersions(context.Background(), "myapp", func(PackageVersion) bool { return true }, 0)
	if err != nil {
		t.Fatalf("ListPackageVersions: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected pagination to short-circuit before any request, got %d calls", calls)
	}
	if result.Len() != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestDeletePackageVersion_DryRunSendsNoRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	pkg := Package{Name: "myapp"}
	version := PackageVersion{ID: 1, Tags: []string{"v1"}}

	names, err := c.DeletePackageVersion(context.Background(), pkg, version, true)
	if err != nil {
		t.Fatalf("DeletePackageVersion: %v", err)
	}
	if names != nil {
		t.Fatalf("dry run should return nil names, got %v", names)
	}
	if called {
		t.Fatal("dry run must not send an HTTP request")
	}
}

func TestDeletePackageVersion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	pkg := Package{Name: "myapp"}
	version := PackageVersion{ID: 7, Tags: []string{"v1", "v1.0"}}

	names, err := c.DeletePackageVersion(context.Background(), pkg, version, false)
	if err != nil {
		t.Fatalf("DeletePackageVersion: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v", names)
	}
}

func TestDeletePackageVersion_UnprocessableEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	pkg := Package{Name: "myapp"}
	version := PackageVersion{ID: 9}

	if _, err := c.DeletePackageVersion(context.Background(), pkg, version, false); err == nil {
		t.Fatal("expected error for 422 response")
	}
}

func TestFetchImageManifest_SoftFailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetOCIBaseForTesting(srv.URL)
	children := c.FetchImageManifest(context.Background(), Package{Name: "myapp", OwnerLogin: "octo-org"}, "latest")
	if children != nil {
		t.Fatalf("expected nil children on 404, got %v", children)
	}
}

func TestFetchImageManifest_ParsesIndexChildren(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"schemaVersion": 2,
			"mediaType": "application/vnd.oci.image.index.v1+json",
			"manifests": [
				{"mediaType": "application/vnd.oci.image.manifest.v1+json", "digest": "sha256:aaa", "platform": {"architecture": "amd64", "os": "linux"}},
				{"mediaType": "application/vnd.oci.image.manifest.v1+json", "digest": "sha256:bbb", "platform": {"architecture": "arm64", "os": "linux"}}
			]
		}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetOCIBaseForTesting(srv.URL)
	children := c.FetchImageManifest(context.Background(), Package{Name: "myapp", OwnerLogin: "octo-org"}, "latest")
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2: %+v", len(children), children)
	}
	if children[0].Digest != "sha256:aaa" || children[0].Platform != "linux/amd64" {
		t.Fatalf("unexpected child: %+v", children[0])
	}
}
