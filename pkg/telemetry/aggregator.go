// Package telemetry computes on-demand metrics and fleet dashboard
// reports over the Sample Store and Node Store. It holds no long-lived
// state of its own beyond a small TTL cache for the fleet dashboard.
package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/last-emo-boy/watchdog-core/pkg/database"
	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

// Counts is the all-time success/failure histogram for a node.
type Counts struct {
	SuccessCount int `json:"success_count"`
	FailureCount int `json:"failure_count"`
}

// ResponseTimePoint is one entry in a response-time history series.
type ResponseTimePoint struct {
	CreatedAt      time.Time `json:"created_at"`
	ResponseTimeMs int       `json:"response_time_ms"`
}

// NodeMetrics is the per-node metrics report (spec §4.4).
type NodeMetrics struct {
	NodeID                string              `json:"node_id"`
	UptimePercent         float64             `json:"uptime_percent"`
	AverageResponseTimeMs float64             `json:"average_response_time_ms"`
	Counts                Counts              `json:"counts"`
	ResponseTimeHistory   []ResponseTimePoint `json:"response_time_history"`
	RecentSamples         []*domain.Sample    `json:"recent_samples"`
	RecentErrors          []*domain.Sample    `json:"recent_errors"`
}

// BucketSummary is one fixed-width time bucket in a fleet report.
type BucketSummary struct {
	TimestampMs   int64   `json:"timestamp_ms"`
	TotalChecks   int     `json:"total_checks"`
	FailedChecks  int     `json:"failed_checks"`
	AvgResponseMs float64 `json:"avg_response_ms"`
	P99ResponseMs float64 `json:"p99_response_ms"`
}

// StatusHistogram is the status rollup used by status_overview.
type StatusHistogram struct {
	Total   int `json:"total"`
	Active  int `json:"active"`
	Down    int `json:"down"`
	Warning int `json:"warning"`
	Paused  int `json:"paused"`
}

// DashboardDerived holds the "current" figures computed from the newest
// non-empty bucket of a fleet report.
type DashboardDerived struct {
	ResponseTimeCurrent float64 `json:"response_time_current"`
	RequestRateCurrent  float64 `json:"request_rate_current"`
	ErrorRateCurrent    float64 `json:"error_rate_current"`
	LatencyP99Current   float64 `json:"latency_p99_current"`
}

// DashboardReport is the fleet telemetry report of spec §4.4.
type DashboardReport struct {
	Buckets []BucketSummary  `json:"buckets"`
	Derived DashboardDerived `json:"derived"`
	Status  StatusHistogram  `json:"status"`
}

// Aggregator computes telemetry reports from a Sample Store and Node
// Store. Constructed with explicit values, never a package-level global,
// per the singleton redesign flag.
type Aggregator struct {
	nodes   database.NodeStore
	samples database.SampleStore

	dashboardWindow time.Duration
	bucketSeconds   int
	cacheTTL        time.Duration

	cacheMu sync.Mutex
	cache   map[string]cachedDashboard
}

type cachedDashboard struct {
	report    DashboardReport
	expiresAt time.Time
}

// New builds an Aggregator. dashboardWindow and bucketSeconds parameterize
// DashboardOverview; cacheTTL governs how long a user's dashboard report
// is served stale before being recomputed.
func New(nodes database.NodeStore, samples database.SampleStore, dashboardWindow time.Duration, bucketSeconds int, cacheTTL time.Duration) *Aggregator {
	return &Aggregator{
		nodes:           nodes,
		samples:         samples,
		dashboardWindow: dashboardWindow,
		bucketSeconds:   bucketSeconds,
		cacheTTL:        cacheTTL,
		cache:           make(map[string]cachedDashboard),
	}
}

// Metrics computes the per-node metrics report over the window [since,
// now]. A zero since defaults to the last 24 hours, matching GetNode's
// response-time-history window in spec §6.
func (a *Aggregator) Metrics(nodeID string, since time.Time) (*NodeMetrics, error) {
	if since.IsZero() {
		since = time.Now().Add(-24 * time.Hour)
	}

	uptime, err := a.samples.AggregateUptime(nodeID, since)
	if err != nil {
		return nil, err
	}
	avg, err := a.samples.AggregateAverage(nodeID, since)
	if err != nil {
		return nil, err
	}
	successCount, failureCount, err := a.samples.AggregateCounts(nodeID)
	if err != nil {
		return nil, err
	}
	recent, err := a.samples.ListByNode(nodeID, 50)
	if err != nil {
		return nil, err
	}
	errors, err := a.samples.ListErrorsByNode(nodeID, 50)
	if err != nil {
		return nil, err
	}

	history, err := a.responseTimeHistory(nodeID, since)
	if err != nil {
		return nil, err
	}

	return &NodeMetrics{
		NodeID:                nodeID,
		UptimePercent:         round2(uptime),
		AverageResponseTimeMs: avg,
		Counts:                Counts{SuccessCount: successCount, FailureCount: failureCount},
		ResponseTimeHistory:   history,
		RecentSamples:         recent,
		RecentErrors:          errors,
	}, nil
}

// responseTimeHistory returns the oldest-first series of successful
// samples' (created_at, response_time_ms) in the window. It reuses
// ListByNode's newest-first page, filters to successes, and reverses —
// there is no dedicated store method for this narrow shape.
func (a *Aggregator) responseTimeHistory(nodeID string, since time.Time) ([]ResponseTimePoint, error) {
	samples, err := a.samples.ListByNode(nodeID, 500)
	if err != nil {
		return nil, err
	}
	points := make([]ResponseTimePoint, 0, len(samples))
	for _, s := range samples {
		if !s.Success || s.CreatedAt.Before(since) {
			continue
		}
		points = append(points, ResponseTimePoint{CreatedAt: s.CreatedAt, ResponseTimeMs: s.ResponseTimeMs})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].CreatedAt.Before(points[j].CreatedAt) })
	return points, nil
}

// Buckets computes fleet-wide fixed-width bucket summaries over
// [since, now] for nodeIDs. Empty buckets are omitted by the store layer.
func (a *Aggregator) Buckets(nodeIDs []string, since time.Time, bucketSeconds int) ([]BucketSummary, error) {
	raw, err := a.samples.AggregateBuckets(nodeIDs, since, bucketSeconds)
	if err != nil {
		return nil, err
	}
	out := make([]BucketSummary, 0, len(raw))
	for _, b := range raw {
		out = append(out, BucketSummary{
			TimestampMs:   b.TimestampMs,
			TotalChecks:   b.TotalChecks,
			FailedChecks:  b.FailedChecks,
			AvgResponseMs: round1(b.AvgResponseMs),
			P99ResponseMs: round1(b.P99ResponseMs),
		})
	}
	return out, nil
}

// StatusOverview computes the {total, active, down, warning, paused}
// histogram over a user's nodes.
func (a *Aggregator) StatusOverview(userID string) (StatusHistogram, error) {
	nodes, _, err := a.nodes.ListByUser(userID, database.NodeListFilter{Page: 1, Limit: maxListLimit})
	if err != nil {
		return StatusHistogram{}, err
	}
	return histogram(nodes), nil
}

// maxListLimit is large enough to cover a user's entire node set for the
// status rollup without paginating.
const maxListLimit = 100000

func histogram(nodes []*domain.Node) StatusHistogram {
	var h StatusHistogram
	for _, n := range nodes {
		h.Total++
		switch n.Status {
		case domain.StatusActive:
			h.Active++
		case domain.StatusDown:
			h.Down++
		case domain.StatusWarning:
			h.Warning++
		case domain.StatusPaused:
			h.Paused++
		}
	}
	return h
}

// SystemStatus reports on every node in the system (spec §6), regardless
// of owner — it is the one read path with no user_id.
func (a *Aggregator) SystemStatus() (StatusHistogram, error) {
	nodes, err := a.nodes.ListAll()
	if err != nil {
		return StatusHistogram{}, err
	}
	return histogram(nodes), nil
}

// DashboardOverview returns the cached (or freshly computed) fleet report
// for a user, using the configured window/bucket width. The cache is not
// invalidated by writes — eventual consistency is acceptable here, per
// spec §4.4.
func (a *Aggregator) DashboardOverview(userID string) (*DashboardReport, error) {
	if cached, ok := a.cachedReport(userID); ok {
		return &cached, nil
	}

	nodes, _, err := a.nodes.ListByUser(userID, database.NodeListFilter{Page: 1, Limit: maxListLimit})
	if err != nil {
		return nil, err
	}
	nodeIDs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		nodeIDs = append(nodeIDs, n.NodeID)
	}

	since := time.Now().Add(-a.dashboardWindow)
	buckets, err := a.Buckets(nodeIDs, since, a.bucketSeconds)
	if err != nil {
		return nil, err
	}

	report := DashboardReport{
		Buckets: buckets,
		Derived: derive(buckets, a.bucketSeconds),
		Status:  histogram(nodes),
	}

	a.storeCachedReport(userID, report)
	return &report, nil
}

func derive(buckets []BucketSummary, bucketSeconds int) DashboardDerived {
	if len(buckets) == 0 {
		return DashboardDerived{}
	}
	newest := buckets[len(buckets)-1]

	var requestRate, errorRate float64
	if bucketSeconds > 0 {
		requestRate = float64(newest.TotalChecks) * (60 / float64(bucketSeconds))
	}
	if newest.TotalChecks > 0 {
		errorRate = round2((float64(newest.FailedChecks) / float64(newest.TotalChecks)) * 100)
	}

	return DashboardDerived{
		ResponseTimeCurrent: newest.AvgResponseMs,
		RequestRateCurrent:  requestRate,
		ErrorRateCurrent:    errorRate,
		LatencyP99Current:   newest.P99ResponseMs,
	}
}

func (a *Aggregator) cachedReport(userID string) (DashboardReport, bool) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	entry, ok := a.cache[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		return DashboardReport{}, false
	}
	return entry.report, true
}

func (a *Aggregator) storeCachedReport(userID string, report DashboardReport) {
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	a.cache[userID] = cachedDashboard{report: report, expiresAt: time.Now().Add(a.cacheTTL)}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
