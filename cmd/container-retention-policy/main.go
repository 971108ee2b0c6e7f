// Command container-retention-policy deletes GitHub Container Registry
// package-versions that match a retention policy: name/tag patterns, a
// cut-off age, and a tag-selection rule, while protecting any digest
// still referenced by a kept tag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ghcr-tools/container-retention-policy/internal/client"
	"github.com/ghcr-tools/container-retention-policy/internal/counts"
	"github.com/ghcr-tools/container-retention-policy/internal/executor"
	"github.com/ghcr-tools/container-retention-policy/internal/input"
	"github.com/ghcr-tools/container-retention-policy/internal/logging"
	"github.com/ghcr-tools/container-retention-policy/internal/metrics"
	"github.com/ghcr-tools/container-retention-policy/internal/selector"
)

// version and commit are set at build time via ldflags:
//
//	-X main.version=$(VERSION) -X main.commit=$(COMMIT)
var version = "dev"
var commit = "unknown"

func versionString() string {
	if commit != "" && commit != "unknown" {
		return version + " (" + commit + ")"
	}
	return version
}

func main() {
	org := flag.String("organization", "", "organization name; omit to target the user account")
	token := flag.String("token", os.Getenv("CRP_TOKEN"), "GitHub token (ghp_/gho_/ghs_)")
	imageNames := flag.String("image-names", "", "comma/whitespace-separated image name patterns")
	imageTags := flag.String("image-tags", "", "comma/whitespace-separated image tag patterns")
	shasToSkip := flag.String("shas-to-skip", "", "comma/whitespace-separated sha256 digests to never delete")
	tagSelection := flag.String("tag-selection", "both", "tagged | untagged | both")
	keepNMostRecent := flag.String("keep-n-most-recent", "0", "number of most-recent tagged versions to keep per package")
	dryRun := flag.Bool("dry-run", false, "log what would be deleted without deleting")
	timestampToUse := flag.String("timestamp-to-use", "updated_at", "created_at | updated_at")
	cutOff := flag.String("cut-off", "", "human duration, e.g. 1w, 2h (required)")
	defaultLogLevel := os.Getenv("CRP_LOG_LEVEL")
	if defaultLogLevel == "" {
		defaultLogLevel = "info"
	}
	logLevel := flag.String("log-level", defaultLogLevel, "debug | info | warn | error")
	flag.Parse()

	r := input.Raw{
		OrganizationName: *org,
		TokenSecret:      *token,
		GithubServerURL:  os.Getenv("GITHUB_SERVER_URL"),
		GithubAPIURL:     os.Getenv("GITHUB_API_URL"),
		ImageNames:       *imageNames,
		ImageTags:        *imageTags,
		ShasToSkip:       *shasToSkip,
		TagSelection:     *tagSelection,
		KeepNMostRecent:  *keepNMostRecent,
		DryRun:           *dryRun,
		TimestampToUse:   *timestampToUse,
		CutOff:           *cutOff,
		LogLevel:         *logLevel,
	}

	in, err := input.Validate(r)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	jsonLogs := os.Getenv("CRP_LOG_JSON") != ""
	log := logging.NewWithLevel(jsonLogs, logging.ParseLevel(in.LogLevel))

	if os.Getenv("CRP_TEST") != "" {
		log.Info("CRP_TEST set: configuration validated, exiting without contacting the registry")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	fmt.Println("container-retention-policy " + versionString())

	c := client.New(in.GithubServerURL, in.GithubAPIURL, in.Account, in.Token, log)

	remaining, reset, err := c.FetchRateLimit(ctx)
	if err != nil {
		log.Error("fetch rate limit", "error", err)
		os.Exit(1)
	}
	cnt := counts.New(remaining, reset)
	c.SetCounts(cnt)
	metrics.RateLimitRemaining.Set(float64(remaining))

	packages, err := selector.SelectPackages(ctx, c, in.Token, in.ImageNames)
	if err != nil {
		log.Error("select packages", "error", err)
		os.Exit(1)
	}
	metrics.PackagesSelected.Set(float64(len(packages)))
	log.Info("selected packages", "count", len(packages))

	sel, err := selector.SelectPackageVersions(ctx, c, cnt, log, packages, selector.VersionSelectionOptions{
		ImageTagPatterns: in.ImageTags,
		ShasToSkip:       toSet(in.ShasToSkip),
		KeepNMostRecent:  in.KeepNMostRecent,
		TagSelection:     in.TagSelection,
		CutOff:           in.CutOff,
		Timestamp:        in.TimestampToUse,
	})
	if err != nil {
		log.Error("select package versions", "error", err)
		os.Exit(1)
	}

	var totalVersions int
	for _, pv := range sel.ToDelete {
		totalVersions += pv.Len()
	}
	metrics.PackageVersionsSelected.Set(float64(totalVersions))
	log.Info("selected package versions for deletion", "count", totalVersions)

	results := executor.Run(ctx, c, cnt, log, packages, sel, in.DryRun)
	log.Info("deletion run complete", "deleted", len(results.Deleted), "failed", len(results.Failed))

	if path := os.Getenv("GITHUB_OUTPUT"); path != "" {
		if err := writeGithubOutput(path, results); err != nil {
			log.Warn("failed to write GITHUB_OUTPUT", "path", path, "error", err)
		}
	}

	if textfile := os.Getenv("CRP_METRICS_FILE"); textfile != "" {
		if err := metrics.WriteTextfile(textfile, ""); err != nil {
			log.Warn("failed to write metrics textfile", "path", textfile, "error", err)
		}
	}
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, s := range items {
		out[s] = struct{}{}
	}
	return out
}
