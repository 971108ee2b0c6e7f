// Package executor implements the Deletion Executor (spec §4.5): a
// two-pass allocator that submits concurrent delete requests under a
// single snapshot of the shared remaining-request budget, untagged
// versions before tagged ones.
package executor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghcr-tools/container-retention-policy/internal/client"
	"github.com/ghcr-tools/container-retention-policy/internal/counts"
	"github.com/ghcr-tools/container-retention-policy/internal/logging"
	"github.com/ghcr-tools/container-retention-policy/internal/metrics"
	"github.com/ghcr-tools/container-retention-policy/internal/selector"
)

// Results is the deletion executor's final report (spec §4.5 step 5).
type Results struct {
	Deleted []string
	Failed  []string
}

type deletionJob struct {
	pkg     client.Package
	version client.PackageVersion
}

// Run executes the two-pass allocation against sel's delete sets.
// Ordering within a package follows the selector's delete-set order;
// across packages, it follows the order packages is given in, which is
// stable within a run (spec §4.5 "Ordering").
func Run(ctx context.Context, c *client.Client, cnt *counts.Counts, log *logging.Logger, packages []client.Package, sel selector.Selection, dryRun bool) Results {
	allocatable := cnt.Snapshot().RemainingRequests

	var untaggedJobs, taggedJobs []deletionJob
	for _, pkg := range packages {
		toDelete := sel.ToDelete[pkg.Name]
		for _, v := range toDelete.Untagged {
			untaggedJobs = append(untaggedJobs, deletionJob{pkg, v})
		}
		for _, v := range toDelete.Tagged {
			taggedJobs = append(taggedJobs, deletionJob{pkg, v})
		}
	}

	pass1, remaining := allocate(untaggedJobs, allocatable)

	var pass2 []deletionJob
	if remaining == 0 {
		if len(untaggedJobs) > 0 || len(taggedJobs) > 0 {
			log.Warn("rate-limit budget exhausted after the untagged deletion pass; skipping tagged deletions",
				"reset", cnt.Snapshot().RateLimitReset.Format(time.RFC1123))
		}
	} else {
		var spentAll bool
		pass2, spentAll = allocateAll(taggedJobs, remaining)
		if !spentAll {
			log.Warn("rate-limit budget exhausted during the tagged deletion pass",
				"reset", cnt.Snapshot().RateLimitReset.Format(time.RFC1123))
		}
	}

	var mu sync.Mutex
	var deleted, failed []string

	runPass := func(jobs []deletionJob) {
		g, gctx := errgroup.WithContext(ctx)
		for _, job := range jobs {
			job := job
			g.Go(func() error {
				names, err := c.DeletePackageVersion(gctx, job.pkg, job.version, dryRun)

				outcome := "deleted"
				switch {
				case dryRun:
					outcome = "dry_run"
				case err != nil:
					outcome = "failed"
				}
				metrics.DeletionsTotal.WithLabelValues(outcome).Inc()

				mu.Lock()
				defer mu.Unlock()
				switch {
				case dryRun:
				case err != nil:
					failed = append(failed, names...)
				default:
					deleted = append(deleted, names...)
				}
				return nil
			})
		}
		_ = g.Wait() // DeletePackageVersion errors are recorded per-job, never propagated
	}

	runPass(pass1)
	runPass(pass2)

	return Results{Deleted: deleted, Failed: failed}
}

// allocate takes as many leading jobs as budget allows and returns the
// remaining budget after spawning them.
func allocate(jobs []deletionJob, budget uint64) ([]deletionJob, uint64) {
	if uint64(len(jobs)) <= budget {
		return jobs, budget - uint64(len(jobs))
	}
	return jobs[:int(budget)], 0
}

// allocateAll is allocate without reporting leftover budget, reporting
// instead whether every job fit within it.
func allocateAll(jobs []deletionJob, budget uint64) ([]deletionJob, bool) {
	if uint64(len(jobs)) <= budget {
		return jobs, true
	}
	return jobs[:int(budget)], false
}
