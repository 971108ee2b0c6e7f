// Package metrics exposes Prometheus instrumentation for a retention run:
// requests issued per endpoint, rate-limit headroom, package-versions
// selected, and deletions by outcome. This is ambient instrumentation
// carried over from the teacher's internal/metrics package — the engine
// never reads these values back, so a run behaves identically whether or
// not anything scrapes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namePrefix namespaces every metric this package registers. WriteTextfile
// (textfile.go) filters the gatherer's output against this same constant
// instead of carrying a second, independently-maintained literal.
const namePrefix = "crp_"

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: namePrefix + "requests_total",
		Help: "Total number of registry API requests issued, by endpoint.",
	}, []string{"endpoint"})

	RateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: namePrefix + "rate_limit_remaining",
		Help: "Remaining request budget as of the last rate-limit observation.",
	})

	PackageVersionsSelected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: namePrefix + "package_versions_selected",
		Help: "Number of package-versions selected for deletion this run.",
	})

	DeletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: namePrefix + "deletions_total",
		Help: "Total number of package-version deletions attempted, by outcome.",
	}, []string{"outcome"}) // "deleted", "failed", "dry_run"

	PackagesSelected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: namePrefix + "packages_selected",
		Help: "Number of packages selected for processing this run.",
	})

	// textfileExportTimestamp records when WriteTextfile last ran. Unlike
	// the teacher's long-lived daemon, this tool runs once per invocation,
	// so a node_exporter textfile collector scraping a stale file has no
	// other way to tell "idle run" apart from "process died mid-export";
	// this gauge gives it one.
	textfileExportTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: namePrefix + "textfile_export_timestamp_seconds",
		Help: "Unix time WriteTextfile last completed a write.",
	})
)
