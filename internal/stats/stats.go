// Package stats aggregates a run index into whole-run and per-label
// figures without touching the archive or the output tree.
package stats

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"cratedig/internal/index"
	"cratedig/internal/logging"
	"cratedig/internal/services"
)

// HistogramBuckets is the number of 0.1-wide confidence buckets.
const HistogramBuckets = 10

// LabelStats aggregates the entries assigned to one label.
type LabelStats struct {
	Label       string  `json:"label"`
	Count       int     `json:"count"`
	MinConf     float64 `json:"min_conf"`
	MeanConf    float64 `json:"mean_conf"`
	MaxConf     float64 `json:"max_conf"`
	DurationSec float64 `json:"duration_sec"`
	Bytes       int64   `json:"bytes"`
}

// Report is the aggregation of one index. Labels are ordered by count
// descending, ties broken by name, so rendering is deterministic.
type Report struct {
	IndexPath        string         `json:"index_path"`
	TotalEntries     int            `json:"total_entries"`
	Processed        int            `json:"processed"`
	Errored          int            `json:"errored"`
	Duplicates       int            `json:"duplicates"`
	MiscRouted       int            `json:"misc_routed"`
	BelowThreshold   int            `json:"below_threshold"`
	OutOfTarget      int            `json:"out_of_target"`
	TotalBytes       int64          `json:"total_bytes"`
	TotalDurationSec float64        `json:"total_duration_sec"`
	MeanConfidence   float64        `json:"mean_confidence"`
	Labels           []LabelStats   `json:"labels"`
	Reasons          map[string]int `json:"reasons"`
	ErrorBreakdown   map[string]int `json:"error_breakdown"`
	Histogram        []int          `json:"confidence_histogram"`
	Truncated        bool           `json:"truncated"`
}

type labelAcc struct {
	count    int
	confSum  float64
	minConf  float64
	maxConf  float64
	duration float64
	bytes    int64
}

// Compute reads the index at path and aggregates it. A truncated final
// line is tolerated with a warning; everything before it still counts.
func Compute(path string, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "stats")

	reader, err := index.OpenReader(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, services.Wrap(services.ErrNotFound, "stats", "open index", path, err)
		case errors.Is(err, services.ErrValidation):
			return nil, err
		default:
			return nil, services.Wrap(services.ErrTransient, "stats", "open index", path, err)
		}
	}
	defer reader.Close()

	report := &Report{
		IndexPath:      path,
		Reasons:        make(map[string]int),
		ErrorBreakdown: make(map[string]int),
		Histogram:      make([]int, HistogramBuckets),
	}
	byLabel := make(map[string]*labelAcc)
	var confSum float64

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if errors.Is(err, index.ErrTruncated) {
			report.Truncated = true
			logger.Warn("index ends with a truncated line; entries after it are ignored",
				logging.String(logging.FieldPath, path),
				logging.Error(err))
			break
		}
		if err != nil {
			return nil, err
		}

		report.TotalEntries++
		report.TotalBytes += entry.Size

		if entry.Failed() {
			report.Errored++
			report.ErrorBreakdown[errorCategory(entry.ErrorText())]++
			continue
		}

		report.Processed++
		report.TotalDurationSec += entry.DurationSec
		confSum += entry.ConfTop1
		report.Histogram[bucket(entry.ConfTop1)]++
		if entry.Duplicate {
			report.Duplicates++
		}
		if entry.MiscRouted {
			report.MiscRouted++
		}
		if entry.BelowThreshold {
			report.BelowThreshold++
		}
		if entry.OutOfTarget {
			report.OutOfTarget++
		}
		if entry.AssignedReason != "" {
			report.Reasons[entry.AssignedReason]++
		}

		acc := byLabel[entry.AssignedLabel]
		if acc == nil {
			acc = &labelAcc{minConf: entry.ConfTop1, maxConf: entry.ConfTop1}
			byLabel[entry.AssignedLabel] = acc
		}
		acc.count++
		acc.confSum += entry.ConfTop1
		acc.duration += entry.DurationSec
		acc.bytes += entry.Size
		if entry.ConfTop1 < acc.minConf {
			acc.minConf = entry.ConfTop1
		}
		if entry.ConfTop1 > acc.maxConf {
			acc.maxConf = entry.ConfTop1
		}
	}

	if report.Processed > 0 {
		report.MeanConfidence = confSum / float64(report.Processed)
	}
	report.Labels = make([]LabelStats, 0, len(byLabel))
	for label, acc := range byLabel {
		report.Labels = append(report.Labels, LabelStats{
			Label:       label,
			Count:       acc.count,
			MinConf:     acc.minConf,
			MeanConf:    acc.confSum / float64(acc.count),
			MaxConf:     acc.maxConf,
			DurationSec: acc.duration,
			Bytes:       acc.bytes,
		})
	}
	sort.Slice(report.Labels, func(i, j int) bool {
		if report.Labels[i].Count != report.Labels[j].Count {
			return report.Labels[i].Count > report.Labels[j].Count
		}
		return report.Labels[i].Label < report.Labels[j].Label
	})
	return report, nil
}

// errorCategory maps a descriptor like "extract: decode failure" to its
// stage prefix. Descriptors without one fall into "other".
func errorCategory(text string) string {
	if i := strings.IndexByte(text, ':'); i > 0 {
		return strings.TrimSpace(text[:i])
	}
	return "other"
}

func bucket(conf float64) int {
	b := int(conf * HistogramBuckets)
	if b < 0 {
		return 0
	}
	if b >= HistogramBuckets {
		return HistogramBuckets - 1
	}
	return b
}
