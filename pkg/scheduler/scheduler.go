// Package scheduler owns one recurring timer per active node, firing the
// Probe Executor at each node's configured cadence and handing the
// outcome to the State Transition Engine. This generalizes the single
// shared-ticker loop the teacher's health_checker.go ran over a flat list
// of services into a per-node timer registry, since nodes here each carry
// their own check_interval_ms.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/last-emo-boy/watchdog-core/pkg/database"
	"github.com/last-emo-boy/watchdog-core/pkg/domain"
	"github.com/last-emo-boy/watchdog-core/pkg/probe"
	"github.com/last-emo-boy/watchdog-core/pkg/statemachine"
)

// timerEntry is one node's registration in the timer registry. Identity
// (pointer equality) rather than node_id alone is used to detect a
// superseded or cancelled generation when a fire callback runs.
type timerEntry struct {
	nodeID     string
	intervalMs int
	timer      *time.Timer
	inFlight   int32
}

// Scheduler is the Scheduler component of spec §4.3. It is
// single-writer over its registry (every mutation goes through mu) while
// probes run concurrently with each other and with registry mutations.
type Scheduler struct {
	nodes    database.NodeStore
	samples  database.SampleStore
	executor *probe.Executor

	mu       sync.Mutex
	registry map[string]*timerEntry

	drainTimeout time.Duration
	inflight     sync.WaitGroup
}

// New builds a Scheduler. drainTimeout bounds how long stop_all will wait
// for in-flight probes to finish before returning anyway.
func New(nodes database.NodeStore, samples database.SampleStore, executor *probe.Executor, drainTimeout time.Duration) *Scheduler {
	return &Scheduler{
		nodes:        nodes,
		samples:      samples,
		executor:     executor,
		registry:     make(map[string]*timerEntry),
		drainTimeout: drainTimeout,
	}
}

// Boot reads every active node from the Node Store and installs a timer
// for each. Meant to run once at process start.
func (s *Scheduler) Boot() error {
	nodes, err := s.nodes.ListActive()
	if err != nil {
		return err
	}
	for _, n := range nodes {
		s.StartNode(n)
	}
	log.Printf("🔍 scheduler booted with %d active node(s)", len(nodes))
	return nil
}

// StartNode installs a repeating timer for node at period
// node.CheckIntervalMs, cancelling any existing timer for the same node
// first. The first tick fires after one full interval, not immediately.
func (s *Scheduler) StartNode(node *domain.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.registry[node.NodeID]; ok {
		old.timer.Stop()
		delete(s.registry, node.NodeID)
	}

	e := &timerEntry{nodeID: node.NodeID, intervalMs: node.CheckIntervalMs}
	e.timer = time.AfterFunc(intervalDuration(e.intervalMs), func() { s.fire(e) })
	s.registry[node.NodeID] = e
}

// StopNode cancels the timer for nodeID if present; a no-op otherwise.
// Safe to call from within a tick callback.
func (s *Scheduler) StopNode(nodeID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(nodeID)
}

func (s *Scheduler) removeLocked(nodeID string) {
	if e, ok := s.registry[nodeID]; ok {
		e.timer.Stop()
		delete(s.registry, nodeID)
	}
}

// IsScheduled reports whether a timer is currently registered for nodeID.
func (s *Scheduler) IsScheduled(nodeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.registry[nodeID]
	return ok
}

// ActiveCount returns the number of registered timers.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.registry)
}

// StopAll cancels every timer and clears the registry, then waits up to
// drainTimeout for in-flight probes to finish. It does not abort a probe
// already in progress.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for id, e := range s.registry {
		e.timer.Stop()
		delete(s.registry, id)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.drainTimeout):
		log.Printf("🛑 scheduler shutdown drain timed out after %s", s.drainTimeout)
	}
}

// fire is the one-shot timer callback. It verifies the entry is still the
// current generation for its node (guards no-lost-cancellation and
// no-double-install), then either skips this tick (a probe is already in
// flight for this node) or runs one and reschedules.
func (s *Scheduler) fire(e *timerEntry) {
	s.mu.Lock()
	current, ok := s.registry[e.nodeID]
	isCurrent := ok && current == e
	s.mu.Unlock()
	if !isCurrent {
		return
	}

	if !atomic.CompareAndSwapInt32(&e.inFlight, 0, 1) {
		s.reschedule(e)
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer atomic.StoreInt32(&e.inFlight, 0)

		stillActive := s.runOnce(e.nodeID)
		if stillActive {
			s.reschedule(e)
		}
	}()
}

func (s *Scheduler) reschedule(e *timerEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.registry[e.nodeID]
	if !ok || current != e {
		return
	}
	e.timer = time.AfterFunc(intervalDuration(e.intervalMs), func() { s.fire(e) })
}

// runOnce executes the tick semantics of spec §4.3 step 1-4 for one node.
// It returns false when the node no longer warrants further scheduling
// (deleted, or paused between ticks), in which case its timer has already
// been removed from the registry.
func (s *Scheduler) runOnce(nodeID string) bool {
	node, err := s.nodes.Read(nodeID)
	if err != nil {
		log.Printf("❌ scheduler: node %s vanished, cancelling timer: %v", nodeID, err)
		s.StopNode(nodeID)
		return false
	}
	if node.Status == domain.StatusPaused {
		s.StopNode(nodeID)
		return false
	}

	outcome := s.executor.Execute(context.Background(), node)

	sample := &domain.Sample{
		SampleID:       uuid.NewString(),
		NodeID:         node.NodeID,
		StatusCode:     outcome.StatusCode,
		StatusText:     outcome.StatusText,
		ResponseTimeMs: outcome.ResponseTimeMs,
		Success:        outcome.Success,
		ErrorMessage:   outcome.ErrorMessage,
		CreatedAt:      outcome.CompletedAt,
	}
	if err := s.samples.Append(sample); err != nil {
		log.Printf("❌ scheduler: failed to persist sample for node %s: %v", nodeID, err)
	}

	update := statemachine.Apply(
		node.ConsecutiveFailures,
		node.Status,
		statemachine.Outcome{Success: outcome.Success, FailureThreshold: node.FailureThreshold},
		outcome.CompletedAt,
	)

	if update.ConsecutiveFailures == 0 {
		if err := s.nodes.ResetFailures(nodeID, update.LastCheckAt); err != nil {
			log.Printf("❌ scheduler: failed to reset failures for node %s: %v", nodeID, err)
		}
		if update.Recovered {
			log.Printf("✅ node %s recovered", nodeID)
		}
	} else {
		if err := s.nodes.IncrementFailures(nodeID, update.ConsecutiveFailures, update.Status, update.LastCheckAt); err != nil {
			log.Printf("❌ scheduler: failed to record failure for node %s: %v", nodeID, err)
		}
		if update.Status == domain.StatusDown {
			log.Printf("🛑 node %s is down after %d consecutive failures", nodeID, update.ConsecutiveFailures)
		}
	}

	return true
}

func intervalDuration(intervalMs int) time.Duration {
	return time.Duration(intervalMs) * time.Millisecond
}
