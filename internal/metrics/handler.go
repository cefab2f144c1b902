package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics summary endpoint.
type Summary struct {
	Mode      string        `json:"mode"`
	HTTP      httpSummary   `json:"http"`
	Cache     cacheSummary  `json:"cache"`
	Match     matchSummary  `json:"match"`
	Admission admissionInfo `json:"admission"`
	RateLimit rateLimitInfo `json:"rateLimit"`
	Activity  activityInfo  `json:"activity"`
	Auth      authInfo      `json:"auth"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type cacheSummary struct {
	Hits        float64 `json:"hits"`
	Misses      float64 `json:"misses"`
	ReadErrors  float64 `json:"readErrors"`
	WriteErrors float64 `json:"writeErrors"`
	HitRate     float64 `json:"hitRate"`
}

type matchSummary struct {
	Computations float64 `json:"computations"`
	P50Duration  float64 `json:"p50Duration"`
	P95Duration  float64 `json:"p95Duration"`
}

type admissionInfo struct {
	Accepted     float64 `json:"accepted"`
	Rejected     float64 `json:"rejected"`
	LockFailures float64 `json:"lockFailures"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type activityInfo struct {
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Events       float64 `json:"events"`
}

type authInfo struct {
	Failures  float64 `json:"failures"`
	Successes float64 `json:"successes"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns    float64 `json:"totalConns"`
	IdleConns     float64 `json:"idleConns"`
	AcquiredConns float64 `json:"acquiredConns"`
	MaxConns      float64 `json:"maxConns"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	summary, err := m.Summarize()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// Summarize gathers the registry and condenses it into a Summary.
func (m *Metrics) Summarize() (Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Summary{}, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	lookups := fam["huddle_cache_lookups_total"]
	hits := sumCounterWithLabel(lookups, "result", "hit")
	misses := sumCounterWithLabel(lookups, "result", "miss")
	var hitRate float64
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	admissions := fam["huddle_team_admissions_total"]
	accepted := sumCounterWithLabel(admissions, "outcome", "ok")
	start := gaugeValue(fam["huddle_server_start_time_seconds"])

	return Summary{
		Mode: "live",
		HTTP: httpSummary{
			TotalRequests: sumCounterWithLabel(fam["huddle_http_requests_total"], "kind", "api"),
			ErrorRate:     computeErrorRate(fam["huddle_http_requests_total"], "kind", "api"),
			P50Latency:    histogramPercentile(fam["huddle_http_request_duration_seconds"], 0.50, "kind", "api"),
			P95Latency:    histogramPercentile(fam["huddle_http_request_duration_seconds"], 0.95, "kind", "api"),
			P99Latency:    histogramPercentile(fam["huddle_http_request_duration_seconds"], 0.99, "kind", "api"),
		},
		Cache: cacheSummary{
			Hits:        hits,
			Misses:      misses,
			ReadErrors:  sumCounterWithLabel(lookups, "result", "error"),
			WriteErrors: sumCounter(fam["huddle_cache_write_errors_total"]),
			HitRate:     hitRate,
		},
		Match: matchSummary{
			Computations: histogramCount(fam["huddle_match_duration_seconds"]),
			P50Duration:  histogramPercentile(fam["huddle_match_duration_seconds"], 0.50, "", ""),
			P95Duration:  histogramPercentile(fam["huddle_match_duration_seconds"], 0.95, "", ""),
		},
		Admission: admissionInfo{
			Accepted:     accepted,
			Rejected:     sumCounter(admissions) - accepted,
			LockFailures: sumCounter(fam["huddle_lock_acquisitions_total"]) - sumCounterWithLabel(fam["huddle_lock_acquisitions_total"], "outcome", "acquired"),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["huddle_ratelimit_rejections_total"]),
		},
		Activity: activityInfo{
			TotalFlushes: sumCounter(fam["huddle_activity_flushes_total"]),
			FlushErrors:  sumCounterWithLabel(fam["huddle_activity_flushes_total"], "status", "error"),
			Events:       sumCounter(fam["huddle_activity_events_total"]),
		},
		Auth: authInfo{
			Failures:  sumCounter(fam["huddle_auth_failures_total"]),
			Successes: sumCounter(fam["huddle_auth_successes_total"]),
		},
		DB: dbInfo{
			TotalConns:    gaugeValue(fam["huddle_db_pool_total_conns"]),
			IdleConns:     gaugeValue(fam["huddle_db_pool_idle_conns"]),
			AcquiredConns: gaugeValue(fam["huddle_db_pool_acquired_conns"]),
			MaxConns:      gaugeValue(fam["huddle_db_pool_max_conns"]),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	return sumCounterWithLabel(f, "", "")
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

// hasLabel reports whether m carries name=value. An empty name matches
// every metric.
func hasLabel(m *dto.Metric, name, value string) bool {
	if name == "" {
		return true
	}
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func sumCounterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func histogramCount(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total uint64
	for _, m := range f.GetMetric() {
		if h := m.GetHistogram(); h != nil {
			total += h.GetSampleCount()
		}
	}
	return float64(total)
}

// computeErrorRate returns the share of matching requests answered with a
// 4xx or 5xx status.
func computeErrorRate(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if !hasLabel(m, labelName, labelValue) || m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

// histogramPercentile computes a percentile from the aggregated buckets of
// every matching histogram using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		if !hasLabel(m, labelName, labelValue) {
			continue
		}
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Everything landed in +Inf; report the last finite bound.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
