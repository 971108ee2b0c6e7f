package metrics

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// WriteTextfile gathers every registered metric whose name starts with
// namespace and writes it to path in Prometheus exposition format, for
// node_exporter's textfile collector. An empty namespace falls back to
// this package's own namePrefix, so callers outside this package never
// need to know the literal "crp_" string.
//
// The write goes through a sibling temp file plus rename rather than
// writing path directly: a collector polling the textfile directory on its
// own schedule must never observe a half-written file mid-encode.
func WriteTextfile(path string, namespace string) error {
	if namespace == "" {
		namespace = namePrefix
	}
	textfileExportTimestamp.Set(float64(time.Now().Unix()))

	families, err := matchingFamilies(namespace)
	if err != nil {
		return fmt.Errorf("gather %s metrics: %w", namespace, err)
	}

	tmp := path + ".tmp"
	if err := encodeToFile(tmp, families); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// matchingFamilies gathers the default registry and keeps only the metric
// families under namespace.
func matchingFamilies(namespace string) ([]*dto.MetricFamily, error) {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return nil, err
	}
	var kept []*dto.MetricFamily
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), namespace) {
			kept = append(kept, mf)
		}
	}
	return kept, nil
}

func encodeToFile(path string, families []*dto.MetricFamily) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	enc := expfmt.NewEncoder(f, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
