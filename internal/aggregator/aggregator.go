package aggregator

import (
	"sort"

	"review-insights-go/internal/pipeline"
	"review-insights-go/internal/types"
)

// Summary describes one batch run.
type Summary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Dropped   int `json:"dropped"`
	Sentinel  int `json:"sentinel"`
	Fallback  int `json:"fallback"`
	Retries   int `json:"retries"`

	BySentiment      map[string]int `json:"by_sentiment"`
	ByPurchaseMethod map[string]int `json:"by_purchase_method"`
	ByProductType    map[string]int `json:"by_product_type"`

	AvgLatencyMs int64 `json:"avg_latency_ms"`
	MaxLatencyMs int64 `json:"max_latency_ms"`
}

// Aggregate counts outcomes of a run. Sentinel records are left out of the
// distributions, and a product type of "none" is not counted as a product.
func Aggregate(report pipeline.Report) Summary {
	s := Summary{
		Processed:        report.Processed(),
		Succeeded:        len(report.Records),
		Dropped:          len(report.Failures),
		Retries:          report.Retries,
		BySentiment:      map[string]int{},
		ByPurchaseMethod: map[string]int{},
		ByProductType:    map[string]int{},
	}

	var total int64
	for _, rec := range report.Records {
		r := rec.Result
		if ms := r.EndTime.Sub(r.StartTime).Milliseconds(); ms > 0 {
			total += ms
			if ms > s.MaxLatencyMs {
				s.MaxLatencyMs = ms
			}
		}
		if r.Fallback {
			s.Fallback++
		}
		if r.IsSentinel() {
			s.Sentinel++
			continue
		}
		s.BySentiment[r.Sentiment]++
		s.ByPurchaseMethod[r.PurchaseMethod]++
		if isKnown(r.ProductType) {
			s.ByProductType[r.ProductType]++
		}
	}
	if s.Succeeded > 0 {
		s.AvgLatencyMs = total / int64(s.Succeeded)
	}
	return s
}

// Top returns up to n keys of counts, most frequent first, ties by key.
func Top(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n >= 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func isKnown(v string) bool { return v != "" && v != types.NoneMarker }
