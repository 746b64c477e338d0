package metrics

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/prometheus/prompb"
)

// SeriesSet accumulates samples into time series keyed by metric name and
// label set. Series come out in insertion order with labels sorted by name,
// as remote write requires.
type SeriesSet struct {
	index  map[string]int
	series []prompb.TimeSeries
}

// NewSeriesSet creates an empty set
func NewSeriesSet() *SeriesSet {
	return &SeriesSet{index: make(map[string]int)}
}

// Add appends one sample to the series identified by name and labels
func (s *SeriesSet) Add(name string, labels map[string]string, value float64, ts time.Time) {
	key := seriesKey(name, labels)

	i, ok := s.index[key]
	if !ok {
		i = len(s.series)
		s.index[key] = i
		s.series = append(s.series, prompb.TimeSeries{Labels: buildLabels(name, labels)})
	}

	s.series[i].Samples = append(s.series[i].Samples, prompb.Sample{
		Value:     value,
		Timestamp: ts.UnixMilli(),
	})
}

// Series returns the accumulated time series
func (s *SeriesSet) Series() []prompb.TimeSeries {
	return s.series
}

// Len returns the number of distinct series
func (s *SeriesSet) Len() int {
	return len(s.series)
}

// CombineBuilders runs every builder over the same items and concatenates the
// results
func CombineBuilders[T any](builders ...TimeSeriesBuilder[T]) TimeSeriesBuilder[T] {
	return func(ctx context.Context, items []T) ([]prompb.TimeSeries, error) {
		var all []prompb.TimeSeries

		for _, builder := range builders {
			if builder == nil {
				continue
			}

			series, err := builder(ctx, items)
			if err != nil {
				return nil, err
			}

			all = append(all, series...)
		}

		return all, nil
	}
}

func buildLabels(name string, labels map[string]string) []prompb.Label {
	out := make([]prompb.Label, 0, len(labels)+1)
	out = append(out, prompb.Label{Name: "__name__", Value: name})
	for k, v := range labels {
		out = append(out, prompb.Label{Name: k, Value: v})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func seriesKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('\xff')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	return b.String()
}
