package scheduler

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/last-emo-boy/watchdog-core/pkg/database"
	"github.com/last-emo-boy/watchdog-core/pkg/domain"
	"github.com/last-emo-boy/watchdog-core/pkg/probe"
)

// fakeNodeStore is an in-memory NodeStore for scheduler tests.
type fakeNodeStore struct {
	mu    sync.Mutex
	nodes map[string]*domain.Node
}

func newFakeNodeStore() *fakeNodeStore {
	return &fakeNodeStore{nodes: make(map[string]*domain.Node)}
}

func (f *fakeNodeStore) put(n *domain.Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[n.NodeID] = n
}

func (f *fakeNodeStore) Create(node *domain.Node) error { f.put(node); return nil }

func (f *fakeNodeStore) Read(nodeID string) (*domain.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nodeID]
	if !ok {
		return nil, assert.AnError
	}
	cp := *n
	return &cp, nil
}

func (f *fakeNodeStore) Update(node *domain.Node) error { f.put(node); return nil }
func (f *fakeNodeStore) Delete(nodeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, nodeID)
	return nil
}
func (f *fakeNodeStore) ListByUser(userID string, filter database.NodeListFilter) ([]*domain.Node, int, error) {
	return nil, 0, nil
}
func (f *fakeNodeStore) ListActive() ([]*domain.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Node
	for _, n := range f.nodes {
		if n.Status != domain.StatusPaused {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (f *fakeNodeStore) ListAll() ([]*domain.Node, error) { return nil, nil }
func (f *fakeNodeStore) CountByUser(userID string) (int, error) { return 0, nil }

func (f *fakeNodeStore) IncrementFailures(nodeID string, newCount int, status string, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nodeID]
	if !ok {
		return assert.AnError
	}
	n.ConsecutiveFailures = newCount
	n.Status = status
	n.LastCheckAt = &checkedAt
	return nil
}

func (f *fakeNodeStore) ResetFailures(nodeID string, checkedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nodeID]
	if !ok {
		return assert.AnError
	}
	n.ConsecutiveFailures = 0
	n.Status = domain.StatusActive
	n.LastCheckAt = &checkedAt
	return nil
}

func (f *fakeNodeStore) UpdateStatus(nodeID string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[nodeID]
	if !ok {
		return assert.AnError
	}
	n.Status = status
	return nil
}

// fakeSampleStore records appended samples; the aggregate methods are
// unused by scheduler tests and return zero values.
type fakeSampleStore struct {
	mu      sync.Mutex
	samples []*domain.Sample
}

func (f *fakeSampleStore) Append(sample *domain.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, sample)
	return nil
}
func (f *fakeSampleStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.samples)
}
func (f *fakeSampleStore) ListByNode(nodeID string, limit int) ([]*domain.Sample, error) {
	return nil, nil
}
func (f *fakeSampleStore) ListErrorsByNode(nodeID string, limit int) ([]*domain.Sample, error) {
	return nil, nil
}
func (f *fakeSampleStore) ListByNodes(nodeIDs []string, limit int) ([]*domain.Sample, error) {
	return nil, nil
}
func (f *fakeSampleStore) DeleteByNode(nodeID string) error { return nil }
func (f *fakeSampleStore) AggregateAverage(nodeID string, since time.Time) (float64, error) {
	return 0, nil
}
func (f *fakeSampleStore) AggregateUptime(nodeID string, since time.Time) (float64, error) {
	return 100, nil
}
func (f *fakeSampleStore) AggregateCounts(nodeID string) (int, int, error) { return 0, 0, nil }
func (f *fakeSampleStore) AggregateBuckets(nodeIDs []string, since time.Time, bucketSeconds int) ([]database.Bucket, error) {
	return nil, nil
}

func newTestNode(url string, intervalMs int) *domain.Node {
	return &domain.Node{
		NodeID:              uuid.NewString(),
		UserID:              "user-1",
		Name:                "test",
		EndpointURL:         url,
		Method:              domain.MethodGET,
		Headers:             map[string]string{},
		CheckIntervalMs:     intervalMs,
		ExpectedStatusCodes: []int{200},
		FailureThreshold:    3,
		Status:              domain.StatusActive,
		CreatedAt:           time.Now(),
		UpdatedAt:           time.Now(),
	}
}

func TestScheduler_StartNodeProbesAfterInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	nodes := newFakeNodeStore()
	samples := &fakeSampleStore{}
	node := newTestNode(server.URL, 50)
	nodes.put(node)

	s := New(nodes, samples, probe.NewExecutor(), time.Second)
	s.StartNode(node)
	require.True(t, s.IsScheduled(node.NodeID))

	require.Eventually(t, func() bool { return samples.count() >= 1 }, 2*time.Second, 10*time.Millisecond)

	s.StopNode(node.NodeID)
	assert.False(t, s.IsScheduled(node.NodeID))
}

func TestScheduler_StopNodeHaltsFurtherProbes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	nodes := newFakeNodeStore()
	samples := &fakeSampleStore{}
	node := newTestNode(server.URL, 30)
	nodes.put(node)

	s := New(nodes, samples, probe.NewExecutor(), time.Second)
	s.StartNode(node)
	require.Eventually(t, func() bool { return samples.count() >= 1 }, 2*time.Second, 10*time.Millisecond)

	s.StopNode(node.NodeID)
	countAfterStop := samples.count()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, countAfterStop, samples.count())
}

func TestScheduler_BootInstallsTimersForActiveNodesOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	nodes := newFakeNodeStore()
	active := newTestNode(server.URL, 60000)
	paused := newTestNode(server.URL, 60000)
	paused.Status = domain.StatusPaused
	nodes.put(active)
	nodes.put(paused)

	s := New(nodes, &fakeSampleStore{}, probe.NewExecutor(), time.Second)
	require.NoError(t, s.Boot())

	assert.True(t, s.IsScheduled(active.NodeID))
	assert.False(t, s.IsScheduled(paused.NodeID))
	assert.Equal(t, 1, s.ActiveCount())
}

func TestScheduler_PausedNodeTickCancelsItsOwnTimer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	nodes := newFakeNodeStore()
	node := newTestNode(server.URL, 30)
	nodes.put(node)

	s := New(nodes, &fakeSampleStore{}, probe.NewExecutor(), time.Second)
	s.StartNode(node)

	node.Status = domain.StatusPaused
	nodes.put(node)

	require.Eventually(t, func() bool { return !s.IsScheduled(node.NodeID) }, 2*time.Second, 10*time.Millisecond)
}
