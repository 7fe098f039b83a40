package analyze

import (
	"sort"
	"time"

	"github.com/cjp256/lpt/internal/model"
	"github.com/cjp256/lpt/internal/timeline"
)

// DefaultHistogramInterval is the bucket width of Report.Histogram.
const DefaultHistogramInterval = time.Second

// HistogramPoint counts the log records in one bucket of boot time.
type HistogramPoint struct {
	// Time is the bucket start in seconds since boot.
	Time      float64 `json:"time"`
	Count     int     `json:"count"`
	Journal   int     `json:"journal"`
	CloudInit int     `json:"cloudinit"`
}

// computeHistogram aggregates record counts over time buckets. Records that
// could not be placed on the boot clock are left out. Empty buckets are not
// reported.
func computeHistogram(entries []timeline.Entry, interval time.Duration) []HistogramPoint {
	if interval <= 0 {
		interval = DefaultHistogramInterval
	}

	buckets := make(map[time.Duration]*HistogramPoint)
	for _, e := range entries {
		if !e.Anchored || e.At < 0 {
			continue
		}
		start := (e.At / interval) * interval
		p, ok := buckets[start]
		if !ok {
			p = &HistogramPoint{Time: seconds(start)}
			buckets[start] = p
		}
		p.Count++
		switch e.Source {
		case model.SourceJournal:
			p.Journal++
		case model.SourceCloudInit:
			p.CloudInit++
		}
	}

	points := make([]HistogramPoint, 0, len(buckets))
	for _, p := range buckets {
		points = append(points, *p)
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})
	return points
}
