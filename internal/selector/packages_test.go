package selector

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ghcr-tools/container-retention-policy/internal/account"
	"github.com/ghcr-tools/container-retention-policy/internal/client"
	"github.com/ghcr-tools/container-retention-policy/internal/logging"
	"github.com/ghcr-tools/container-retention-policy/internal/token"
)

func classicToken(t *testing.T) token.Token {
	t.Helper()
	tok, err := token.Parse("ghp_" + strings.Repeat("a", 36))
	if err != nil {
		t.Fatalf("parse test token: %v", err)
	}
	return tok
}

func temporalToken(t *testing.T) token.Token {
	t.Helper()
	tok, err := token.Parse("ghs_" + strings.Repeat("a", 36))
	if err != nil {
		t.Fatalf("parse test token: %v", err)
	}
	return tok
}

// TestSelectPackages_FiltersByNamePatterns lists three packages and keeps
// the two surviving a positive pattern with a negative exclusion.
func TestSelectPackages_FiltersByNamePatterns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":1,"name":"svc-api","owner":{"login":"octo-org"}},
			{"id":2,"name":"svc-worker","owner":{"login":"octo-org"}},
			{"id":3,"name":"svc-internal","owner":{"login":"octo-org"}}
		]`))
	}))
	defer srv.Close()

	c := client.New(srv.URL, srv.URL, account.User{}, classicToken(t), logging.New(false))

	got, err := SelectPackages(context.Background(), c, classicToken(t), []string{"svc-*", "!svc-internal"})
	if err != nil {
		t.Fatalf("SelectPackages: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d packages, want 2: %+v", len(got), got)
	}
	names := map[string]bool{got[0].Name: true, got[1].Name: true}
	if !names["svc-api"] || !names["svc-worker"] || names["svc-internal"] {
		t.Fatalf("unexpected selection: %+v", got)
	}
	if c.OwnerLogin() != "octo-org" {
		t.Fatalf("expected owner login recorded from first page, got %q", c.OwnerLogin())
	}
}

// TestSelectPackages_TemporalTokenRejectsWildcard implements spec §8
// scenario #4: a temporal (workflow) token combined with a wildcard image
// name pattern must fail rather than attempt to list packages.
func TestSelectPackages_TemporalTokenRejectsWildcard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("a temporal token must never call list-packages")
	}))
	defer srv.Close()

	c := client.New(srv.URL, srv.URL, account.User{}, temporalToken(t), logging.New(false))

	_, err := SelectPackages(context.Background(), c, temporalToken(t), []string{"svc-*"})
	if err == nil {
		t.Fatal("expected an error for a wildcard pattern with a temporal token")
	}
	if !strings.Contains(err.Error(), "svc-*") {
		t.Fatalf("expected error to name the offending pattern, got: %v", err)
	}
}

// TestSelectPackages_TemporalTokenFetchesExactNames exercises the
// individual fetch-by-name branch a temporal token takes instead of
// list_packages (spec §4.3 step 1).
func TestSelectPackages_TemporalTokenFetchesExactNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/svc-api"):
			w.Write([]byte(`{"id":1,"name":"svc-api","owner":{"login":"octo-org"}}`))
		case strings.HasSuffix(r.URL.Path, "/svc-worker"):
			w.Write([]byte(`{"id":2,"name":"svc-worker","owner":{"login":"octo-org"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := client.New(srv.URL, srv.URL, account.User{}, temporalToken(t), logging.New(false))

	got, err := SelectPackages(context.Background(), c, temporalToken(t), []string{"svc-api", "svc-worker"})
	if err != nil {
		t.Fatalf("SelectPackages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d packages, want 2: %+v", len(got), got)
	}
}
