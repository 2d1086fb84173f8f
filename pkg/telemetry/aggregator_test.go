package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/last-emo-boy/watchdog-core/pkg/database"
	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

// fakeNodeStore and fakeSampleStore are narrow in-memory stand-ins for the
// Aggregator's two collaborators, mirroring the scheduler package's fakes.

type fakeNodeStore struct {
	mu    sync.Mutex
	nodes []*domain.Node
}

func (f *fakeNodeStore) Create(node *domain.Node) error { return nil }
func (f *fakeNodeStore) Read(nodeID string) (*domain.Node, error) {
	return nil, assert.AnError
}
func (f *fakeNodeStore) Update(node *domain.Node) error { return nil }
func (f *fakeNodeStore) Delete(nodeID string) error     { return nil }
func (f *fakeNodeStore) ListByUser(userID string, filter database.NodeListFilter) ([]*domain.Node, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Node
	for _, n := range f.nodes {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, len(out), nil
}
func (f *fakeNodeStore) ListActive() ([]*domain.Node, error) { return nil, nil }
func (f *fakeNodeStore) ListAll() ([]*domain.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*domain.Node(nil), f.nodes...), nil
}
func (f *fakeNodeStore) CountByUser(userID string) (int, error) { return 0, nil }
func (f *fakeNodeStore) IncrementFailures(nodeID string, newCount int, status string, checkedAt time.Time) error {
	return nil
}
func (f *fakeNodeStore) ResetFailures(nodeID string, checkedAt time.Time) error { return nil }
func (f *fakeNodeStore) UpdateStatus(nodeID string, status string) error       { return nil }

// fakeSampleStore backs AggregateBuckets/Uptime/Average/Counts with an
// in-memory slice, computing results the same way the sqlite-backed
// SampleRepository does for buckets under 100 samples (p99 is always the
// bucket average here), so aggregator tests don't need a real database.
type fakeSampleStore struct {
	samples []*domain.Sample
}

func (f *fakeSampleStore) Append(sample *domain.Sample) error { return nil }
func (f *fakeSampleStore) ListByNode(nodeID string, limit int) ([]*domain.Sample, error) {
	var out []*domain.Sample
	for i := len(f.samples) - 1; i >= 0; i-- {
		if f.samples[i].NodeID == nodeID {
			out = append(out, f.samples[i])
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
func (f *fakeSampleStore) ListErrorsByNode(nodeID string, limit int) ([]*domain.Sample, error) {
	var out []*domain.Sample
	for i := len(f.samples) - 1; i >= 0; i-- {
		if f.samples[i].NodeID == nodeID && !f.samples[i].Success {
			out = append(out, f.samples[i])
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
func (f *fakeSampleStore) ListByNodes(nodeIDs []string, limit int) ([]*domain.Sample, error) {
	return nil, nil
}
func (f *fakeSampleStore) DeleteByNode(nodeID string) error { return nil }
func (f *fakeSampleStore) AggregateAverage(nodeID string, since time.Time) (float64, error) {
	var sum float64
	var count int
	for _, s := range f.samples {
		if s.NodeID == nodeID && s.Success && !s.CreatedAt.Before(since) {
			sum += float64(s.ResponseTimeMs)
			count++
		}
	}
	if count == 0 {
		return 0, nil
	}
	return sum / float64(count), nil
}
func (f *fakeSampleStore) AggregateUptime(nodeID string, since time.Time) (float64, error) {
	var total, success int
	for _, s := range f.samples {
		if s.NodeID == nodeID && !s.CreatedAt.Before(since) {
			total++
			if s.Success {
				success++
			}
		}
	}
	if total == 0 {
		return 100, nil
	}
	return (float64(success) / float64(total)) * 100, nil
}
func (f *fakeSampleStore) AggregateCounts(nodeID string) (success, failure int, err error) {
	for _, s := range f.samples {
		if s.NodeID != nodeID {
			continue
		}
		if s.Success {
			success++
		} else {
			failure++
		}
	}
	return success, failure, nil
}
func (f *fakeSampleStore) AggregateBuckets(nodeIDs []string, since time.Time, bucketSeconds int) ([]database.Bucket, error) {
	wanted := map[string]bool{}
	for _, id := range nodeIDs {
		wanted[id] = true
	}
	widthMs := int64(bucketSeconds) * 1000

	type acc struct {
		total, failed int
		times         []int
	}
	buckets := map[int64]*acc{}
	var keys []int64
	for _, s := range f.samples {
		if !wanted[s.NodeID] || s.CreatedAt.Before(since) {
			continue
		}
		key := (s.CreatedAt.UnixMilli() / widthMs) * widthMs
		a, ok := buckets[key]
		if !ok {
			a = &acc{}
			buckets[key] = a
			keys = append(keys, key)
		}
		a.total++
		if !s.Success {
			a.failed++
		}
		a.times = append(a.times, s.ResponseTimeMs)
	}

	out := make([]database.Bucket, 0, len(keys))
	for _, key := range keys {
		a := buckets[key]
		var sum int
		for _, v := range a.times {
			sum += v
		}
		avg := float64(sum) / float64(len(a.times))
		out = append(out, database.Bucket{
			TimestampMs:   key,
			TotalChecks:   a.total,
			FailedChecks:  a.failed,
			AvgResponseMs: avg,
			P99ResponseMs: avg,
		})
	}
	return out, nil
}

func sample(nodeID string, success bool, responseMs int, at time.Time) *domain.Sample {
	return &domain.Sample{
		SampleID:       "s-" + at.String(),
		NodeID:         nodeID,
		StatusCode:     200,
		Success:        success,
		ResponseTimeMs: responseMs,
		CreatedAt:      at,
	}
}

func TestMetrics_EmptyWindowReportsFullUptime(t *testing.T) {
	agg := New(&fakeNodeStore{}, &fakeSampleStore{}, 5*time.Minute, 30, time.Minute)

	metrics, err := agg.Metrics("node-1", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 100.0, metrics.UptimePercent)
	assert.Equal(t, 0.0, metrics.AverageResponseTimeMs)
}

func TestMetrics_ComputesUptimeAndAverage(t *testing.T) {
	now := time.Now()
	samples := &fakeSampleStore{samples: []*domain.Sample{
		sample("node-1", true, 10, now.Add(-3*time.Minute)),
		sample("node-1", true, 30, now.Add(-2*time.Minute)),
		sample("node-1", false, 0, now.Add(-time.Minute)),
	}}
	agg := New(&fakeNodeStore{}, samples, 5*time.Minute, 30, time.Minute)

	metrics, err := agg.Metrics("node-1", now.Add(-10*time.Minute))
	require.NoError(t, err)

	assert.InDelta(t, 66.67, metrics.UptimePercent, 0.01)
	assert.InDelta(t, 20.0, metrics.AverageResponseTimeMs, 0.01)
	assert.Equal(t, Counts{SuccessCount: 2, FailureCount: 1}, metrics.Counts)
	assert.Len(t, metrics.RecentErrors, 1)
}

// TestBuckets_FixtureScenario mirrors spec scenario 6: 10 samples at +0s,
// +3s, ..., +27s with response times [10..100] ms and alternating
// success, bucketed into a single 30s window. Fewer than 100 samples in
// the bucket means p99 falls back to the average (55.0 ms), and the
// maximum (100 ms) equals nearest-rank over 10 values for reference.
func TestBuckets_FixtureScenario(t *testing.T) {
	base := time.Unix(1_700_000_010, 0).UTC()
	responseTimes := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	var samples []*domain.Sample
	for i, rt := range responseTimes {
		samples = append(samples, sample("node-1", i%2 == 0, rt, base.Add(time.Duration(i*3)*time.Second)))
	}

	store := &fakeSampleStore{samples: samples}
	nodes := &fakeNodeStore{}
	agg := New(nodes, store, 5*time.Minute, 30, time.Minute)

	buckets, err := agg.Buckets([]string{"node-1"}, base.Add(-time.Second), 30)
	require.NoError(t, err)
	require.Len(t, buckets, 1)

	b := buckets[0]
	assert.Equal(t, 10, b.TotalChecks)
	assert.Equal(t, 5, b.FailedChecks)
	assert.InDelta(t, 55.0, b.AvgResponseMs, 0.01)
}

func TestStatusOverview_HistogramAndSystemStatus(t *testing.T) {
	nodes := &fakeNodeStore{nodes: []*domain.Node{
		{NodeID: "1", UserID: "u1", Status: domain.StatusActive},
		{NodeID: "2", UserID: "u1", Status: domain.StatusDown},
		{NodeID: "3", UserID: "u1", Status: domain.StatusWarning},
		{NodeID: "4", UserID: "u1", Status: domain.StatusPaused},
		{NodeID: "5", UserID: "u2", Status: domain.StatusActive},
	}}
	agg := New(nodes, &fakeSampleStore{}, 5*time.Minute, 30, time.Minute)

	hist, err := agg.StatusOverview("u1")
	require.NoError(t, err)
	assert.Equal(t, StatusHistogram{Total: 4, Active: 1, Down: 1, Warning: 1, Paused: 1}, hist)

	all, err := agg.SystemStatus()
	require.NoError(t, err)
	assert.Equal(t, 5, all.Total)
	assert.Equal(t, 1, all.Down)
}

func TestDashboardOverview_CachesWithinTTL(t *testing.T) {
	now := time.Now()
	nodes := &fakeNodeStore{nodes: []*domain.Node{
		{NodeID: "1", UserID: "u1", Status: domain.StatusActive},
	}}
	samples := &fakeSampleStore{samples: []*domain.Sample{
		sample("1", true, 10, now.Add(-10*time.Second)),
	}}
	agg := New(nodes, samples, time.Minute, 30, time.Hour)

	first, err := agg.DashboardOverview("u1")
	require.NoError(t, err)
	require.NotEmpty(t, first.Buckets)

	// Mutate the backing store directly; the cached report must not change
	// within the TTL (spec §4.4: "not invalidated by writes").
	samples.samples = append(samples.samples, sample("1", false, 999, now.Add(-time.Second)))

	second, err := agg.DashboardOverview("u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDerive_ComputesDashboardFields(t *testing.T) {
	buckets := []BucketSummary{
		{TimestampMs: 0, TotalChecks: 10, FailedChecks: 2, AvgResponseMs: 55.0, P99ResponseMs: 100.0},
	}
	derived := derive(buckets, 30)

	assert.Equal(t, 55.0, derived.ResponseTimeCurrent)
	assert.Equal(t, 100.0, derived.LatencyP99Current)
	assert.Equal(t, 20.0, derived.ErrorRateCurrent)
	assert.InDelta(t, 20.0, derived.RequestRateCurrent, 0.01)
}
