// Package selector implements the Package Selector and Package-Version
// Selector (spec §4.3, §4.4): turning an account's packages and a set of
// name/tag patterns into the concrete set of package-versions eligible
// for deletion.
package selector

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ghcr-tools/container-retention-policy/internal/client"
	"github.com/ghcr-tools/container-retention-policy/internal/matcher"
	"github.com/ghcr-tools/container-retention-policy/internal/token"
)

// SelectPackages resolves imageNamePatterns to the concrete packages the
// rest of the pipeline will process. A Temporal token can't list
// packages, so it rejects any wildcard/negation pattern and fetches each
// name individually instead; every other token kind lists and filters.
func SelectPackages(ctx context.Context, c *client.Client, tok token.Token, imageNamePatterns []string) ([]client.Package, error) {
	if token.IsTemporal(tok) {
		return fetchPackagesByExactName(ctx, c, imageNamePatterns)
	}

	packages, err := c.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	if len(packages) > 0 {
		c.SetOwnerLogin(packages[0].OwnerLogin)
	}

	m := matcher.From(imageNamePatterns)
	var selected []client.Package
	for _, p := range packages {
		if m.NegativeMatch(p.Name) {
			continue
		}
		if len(m.Positive) == 0 || m.PositiveMatch(p.Name) {
			selected = append(selected, p)
		}
	}
	return selected, nil
}

// fetchPackagesByExactName implements the Temporal-token branch of spec
// §4.3 step 1: every pattern must be a literal package name.
func fetchPackagesByExactName(ctx context.Context, c *client.Client, names []string) ([]client.Package, error) {
	for _, n := range names {
		if strings.ContainsAny(n, "*!") {
			return nil, fmt.Errorf("a temporal (workflow) token cannot list packages: %q must be an exact package name, not a wildcard or negation pattern", n)
		}
	}

	packages := make([]client.Package, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, n := range names {
		i, n := i, n
		g.Go(func() error {
			p, err := c.FetchPackage(gctx, n)
			if err != nil {
				return err
			}
			packages[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, p := range packages {
		c.SetOwnerLogin(p.OwnerLogin)
	}
	return packages, nil
}
