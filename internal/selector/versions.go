package selector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghcr-tools/container-retention-policy/internal/client"
	"github.com/ghcr-tools/container-retention-policy/internal/counts"
	"github.com/ghcr-tools/container-retention-policy/internal/logging"
	"github.com/ghcr-tools/container-retention-policy/internal/matcher"
)

// TagSelection controls which package versions — by presence of tags —
// the per-version filter considers (spec §3, §4.4 step B.3).
type TagSelection int

const (
	Tagged TagSelection = iota
	Untagged
	Both
)

// VersionSelectionOptions bundles the Package-Version Selector's inputs
// (spec §4.4 "Inputs").
type VersionSelectionOptions struct {
	ImageTagPatterns []string
	ShasToSkip       map[string]struct{}
	KeepNMostRecent  uint32
	TagSelection     TagSelection
	CutOff           time.Duration
	Timestamp        client.Timestamp
}

// Selection is the Package-Version Selector's output: per package, the
// versions to delete, plus a digest -> display-names map the deletion
// executor can use to explain which tags a protected or removed digest
// belonged to (spec §4.4 "Output").
type Selection struct {
	ToDelete   map[string]client.PackageVersions
	DigestTags map[string]map[string][]string
}

// SelectPackageVersions runs the per-version filter pipeline (spec §4.4
// Steps A-F) concurrently across packages. A fatal error fetching or
// deserializing one package's versions propagates and cancels the rest.
func SelectPackageVersions(ctx context.Context, c *client.Client, cnt *counts.Counts, log *logging.Logger, packages []client.Package, opts VersionSelectionOptions) (Selection, error) {
	tagMatchers := matcher.From(opts.ImageTagPatterns)

	type outcome struct {
		name       string
		toDelete   client.PackageVersions
		digestTags map[string][]string
	}

	outcomes := make([]outcome, len(packages))
	g, gctx := errgroup.WithContext(ctx)
	for i, pkg := range packages {
		i, pkg := i, pkg
		g.Go(func() error {
			toDelete, digestTags, err := selectForPackage(gctx, c, cnt, log, pkg, tagMatchers, opts)
			if err != nil {
				return err
			}
			outcomes[i] = outcome{name: pkg.Name, toDelete: toDelete, digestTags: digestTags}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Selection{}, err
	}

	sel := Selection{
		ToDelete:   make(map[string]client.PackageVersions, len(outcomes)),
		DigestTags: make(map[string]map[string][]string, len(outcomes)),
	}
	for _, o := range outcomes {
		sel.ToDelete[o.name] = o.toDelete
		sel.DigestTags[o.name] = o.digestTags
	}
	return sel, nil
}

// selectForPackage runs Steps A-F for a single package.
func selectForPackage(ctx context.Context, c *client.Client, cnt *counts.Counts, log *logging.Logger, pkg client.Package, tagMatchers matcher.Matchers, opts VersionSelectionOptions) (client.PackageVersions, map[string][]string, error) {
	// Step A: fetch all versions unfiltered; the client partitions by
	// tags-empty as it pages.
	all, err := c.ListPackageVersions(ctx, pkg.Name, func(client.PackageVersion) bool { return true }, uint64(opts.KeepNMostRecent))
	if err != nil {
		return client.PackageVersions{}, nil, fmt.Errorf("selecting versions for package %q: %w", pkg.Name, err)
	}

	now := time.Now()
	frontendURL := func(id uint32) string { return c.FrontendVersionURL(pkg.Name, id) }

	// Step B: per-version filter. Preserves Step A's page order.
	var untaggedToDelete, taggedToDelete []client.PackageVersion
	for _, v := range all.Untagged {
		if deleteUntagged(v, opts, now) {
			untaggedToDelete = append(untaggedToDelete, v)
		}
	}
	for _, v := range all.Tagged {
		if deleteTagged(v, tagMatchers, opts, now, pkg.Name, frontendURL, log) {
			taggedToDelete = append(taggedToDelete, v)
		}
	}

	if n := len(untaggedToDelete) + len(taggedToDelete); n > 0 {
		cnt.AddPackageVersions(uint64(n))
	}

	// Step C: classify every tag on every fetched tagged version as kept
	// or deleted, against the Step B delete set.
	deletedVersionIDs := make(map[uint32]bool, len(taggedToDelete))
	for _, v := range taggedToDelete {
		deletedVersionIDs[v.ID] = true
	}
	tagIsKept := make(map[string]bool)
	for _, v := range all.Tagged {
		kept := !deletedVersionIDs[v.ID]
		for _, t := range v.Tags {
			tagIsKept[t] = kept
		}
	}

	// Step D + E: fetch a manifest per (package, tag) across all tagged
	// versions — not just the kept ones — and categorize child digests.
	var tags []string
	for _, v := range all.Tagged {
		tags = append(tags, v.Tags...)
	}
	manifests := make([][]client.ManifestChild, len(tags))
	mg, mgctx := errgroup.WithContext(ctx)
	for i, tag := range tags {
		i, tag := i, tag
		mg.Go(func() error {
			manifests[i] = c.FetchImageManifest(mgctx, pkg, tag)
			return nil
		})
	}
	_ = mg.Wait() // fetch_image_manifest never returns an error; soft-fails internally

	keptDigests := make(map[string]bool)
	deletedDigests := make(map[string]bool)
	digestTags := make(map[string][]string)
	for i, tag := range tags {
		kept := tagIsKept[tag]
		for _, child := range manifests[i] {
			display := pkg.Name + ":" + tag
			if child.Platform != "" {
				display = fmt.Sprintf("%s (%s)", display, child.Platform)
			}
			digestTags[child.Digest] = append(digestTags[child.Digest], display)
			if kept {
				keptDigests[child.Digest] = true
			} else {
				deletedDigests[child.Digest] = true
			}
		}
	}
	for d := range keptDigests {
		delete(deletedDigests, d) // precedence: kept wins on conflict
	}

	// Step F: rewrite the delete set against the protected/removed digest
	// sets, preserving Step A's untagged page order.
	untaggedToDeleteSet := make(map[uint32]bool, len(untaggedToDelete))
	for _, v := range untaggedToDelete {
		untaggedToDeleteSet[v.ID] = true
	}

	var finalUntagged []client.PackageVersion
	for _, v := range all.Untagged {
		inDeleteSet := untaggedToDeleteSet[v.ID] || deletedDigests[v.Name]
		if !inDeleteSet {
			continue
		}
		if keptDigests[v.Name] {
			log.Info("skipping protected digest", "package", pkg.Name, "digest", shortDigest(v.Name), "kept_by", digestTags[v.Name])
			continue
		}
		finalUntagged = append(finalUntagged, v)
	}

	var finalTagged []client.PackageVersion
	for _, v := range taggedToDelete {
		if keptDigests[v.Name] {
			log.Info("skipping protected digest", "package", pkg.Name, "digest", shortDigest(v.Name), "kept_by", digestTags[v.Name])
			continue
		}
		finalTagged = append(finalTagged, v)
	}
	finalTagged = handleKeepNMostRecent(finalTagged, opts.KeepNMostRecent, opts.Timestamp)

	return client.PackageVersions{Untagged: finalUntagged, Tagged: finalTagged}, digestTags, nil
}

// deleteUntagged applies the SHA-skip and cut-off filters (spec §4.4
// Step B.1-2), then the untagged branch of Step B.3.
func deleteUntagged(v client.PackageVersion, opts VersionSelectionOptions, now time.Time) bool {
	if skippedBySHA(v, opts) || newerThanCutOff(v, opts, now) {
		return false
	}
	return opts.TagSelection == Untagged || opts.TagSelection == Both
}

// deleteTagged applies Step B.1-2, then the tagged branch of Step B.3,
// delegating to the tag-matcher tie-break logic of Step B.4.
func deleteTagged(v client.PackageVersion, m matcher.Matchers, opts VersionSelectionOptions, now time.Time, pkgName string, frontendURL func(uint32) string, log *logging.Logger) bool {
	if skippedBySHA(v, opts) || newerThanCutOff(v, opts, now) {
		return false
	}
	if opts.TagSelection != Tagged && opts.TagSelection != Both {
		return false
	}
	return matchesTagMatcher(v, m, pkgName, frontendURL, log)
}

func skippedBySHA(v client.PackageVersion, opts VersionSelectionOptions) bool {
	_, skip := opts.ShasToSkip[v.Name]
	return skip
}

func newerThanCutOff(v client.PackageVersion, opts VersionSelectionOptions, now time.Time) bool {
	boundary := now.Add(-opts.CutOff)
	return v.RelevantTimestamp(opts.Timestamp).After(boundary)
}

// matchesTagMatcher implements spec §4.4 Step B.4's tie-break table.
// N is true if any tag on v hits a negative pattern; P counts the tags
// that hit a positive pattern (or, when there are no positive patterns
// and N is false, every tag counts as a positive match).
func matchesTagMatcher(v client.PackageVersion, m matcher.Matchers, pkgName string, frontendURL func(uint32) string, log *logging.Logger) bool {
	if m.IsEmpty() {
		return true
	}

	n := false
	for _, t := range v.Tags {
		if m.NegativeMatch(t) {
			n = true
			break
		}
	}

	var p int
	switch {
	case len(m.Positive) == 0 && !n:
		p = len(v.Tags)
	case len(m.Positive) == 0:
		p = 0
	default:
		p = m.PositiveMatchCount(v.Tags)
	}

	switch {
	case n && p > 0:
		log.Warn("tag matcher conflict: tags match both a positive and a negative pattern", "package", pkgName, "tags", v.Tags, "url", frontendURL(v.ID))
		return false
	case n:
		return false
	case p == len(v.Tags):
		return true
	case p == 0:
		return false
	default:
		log.Warn("tag matcher partial match: only some of the version's tags match the positive patterns", "package", pkgName, "tags", v.Tags, "url", frontendURL(v.ID))
		return false
	}
}

// handleKeepNMostRecent sorts versions by relevant timestamp ascending
// and pops the tail n times; the survivors are still targeted for
// deletion. No-op on an empty or n=0 input.
func handleKeepNMostRecent(versions []client.PackageVersion, n uint32, ts client.Timestamp) []client.PackageVersion {
	if len(versions) == 0 || n == 0 {
		return versions
	}

	sorted := make([]client.PackageVersion, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevantTimestamp(ts).Before(sorted[j].RelevantTimestamp(ts))
	})

	remove := int(n)
	if remove > len(sorted) {
		remove = len(sorted)
	}
	return sorted[:len(sorted)-remove]
}

// shortDigest renders the "sha256:" + first 12 hex chars form used in
// digest-protection skip logs (spec §4.4 Step F.2).
func shortDigest(name string) string {
	const prefix = "sha256:"
	hex, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return name
	}
	if len(hex) > 12 {
		hex = hex[:12]
	}
	return prefix + hex
}
