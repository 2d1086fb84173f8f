// Package core implements the external interfaces consumed by the HTTP
// layer (spec §6): node lifecycle operations and the on-demand read
// paths, wired to the Node Store, Sample Store, Scheduler, and Telemetry
// Aggregator.
package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/last-emo-boy/watchdog-core/pkg/apperr"
	"github.com/last-emo-boy/watchdog-core/pkg/database"
	"github.com/last-emo-boy/watchdog-core/pkg/domain"
	"github.com/last-emo-boy/watchdog-core/pkg/probe"
	"github.com/last-emo-boy/watchdog-core/pkg/telemetry"
)

const probeExecutorVersion = "watchdog-core/1"

// scheduler is the narrow slice of *scheduler.Scheduler the facade needs.
// Declared locally so pkg/core does not import pkg/scheduler directly,
// avoiding a core<->scheduler<->database import triangle; cmd/watchdog
// wires a concrete *scheduler.Scheduler in at construction time.
type scheduler interface {
	StartNode(node *domain.Node)
	StopNode(nodeID string)
	ActiveCount() int
}

// Service is the core facade. All fields are injected explicitly — no
// package-level globals — per the singleton redesign flag.
type Service struct {
	nodes     database.NodeStore
	samples   database.SampleStore
	scheduler scheduler
	aggregator *telemetry.Aggregator
	executor  *probe.Executor
}

// New builds a Service.
func New(nodes database.NodeStore, samples database.SampleStore, sched scheduler, aggregator *telemetry.Aggregator, executor *probe.Executor) *Service {
	return &Service{
		nodes:      nodes,
		samples:    samples,
		scheduler:  sched,
		aggregator: aggregator,
		executor:   executor,
	}
}

// NodeSpec is the input shape for CreateNode/TestConnection. UpdateNode
// takes a NodePatch instead.
type NodeSpec struct {
	Name                string
	EndpointURL         string
	Method              string
	Headers             map[string]string
	Body                string
	CheckIntervalMs     int
	ExpectedStatusCodes []int
	FailureThreshold    int
}

// NodePatch is UpdateNode's partial-update shape; nil pointers mean
// "leave unchanged".
type NodePatch struct {
	Name                *string
	EndpointURL         *string
	Method              *string
	Headers             map[string]string
	Body                *string
	CheckIntervalMs     *int
	ExpectedStatusCodes []int
	FailureThreshold    *int
}

// CreateNode validates spec, generates a node_id, persists the node
// active with zero failures, and starts its timer.
func (s *Service) CreateNode(userID string, spec NodeSpec) (*domain.Node, *apperr.Error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	now := time.Now()
	node := &domain.Node{
		NodeID:              uuid.NewString(),
		UserID:              userID,
		Name:                spec.Name,
		EndpointURL:         spec.EndpointURL,
		Method:              normalizeMethod(spec.Method),
		Headers:             spec.Headers,
		Body:                spec.Body,
		CheckIntervalMs:     spec.CheckIntervalMs,
		ExpectedStatusCodes: normalizeStatusCodes(spec.ExpectedStatusCodes),
		FailureThreshold:    normalizeThreshold(spec.FailureThreshold),
		Status:              domain.StatusActive,
		ConsecutiveFailures: 0,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := s.nodes.Create(node); err != nil {
		return nil, apperr.Internal("failed to create node", err)
	}
	s.scheduler.StartNode(node)
	return node, nil
}

// UpdateNode applies a partial update. If check_interval_ms changed and
// the node is active, its timer is reinstalled at the new cadence.
func (s *Service) UpdateNode(userID, nodeID string, patch NodePatch) (*domain.Node, *apperr.Error) {
	node, aerr := s.ownedNode(userID, nodeID)
	if aerr != nil {
		return nil, aerr
	}

	previousInterval := node.CheckIntervalMs
	applyPatch(node, patch)

	if aerr := validateNode(node); aerr != nil {
		return nil, aerr
	}

	node.UpdatedAt = time.Now()
	if err := s.nodes.Update(node); err != nil {
		return nil, apperr.Internal("failed to update node", err)
	}

	if node.CheckIntervalMs != previousInterval && node.Status == domain.StatusActive {
		s.scheduler.StartNode(node)
	}
	return node, nil
}

// PauseNode transitions an active/warning/down node to paused and cancels
// its timer. Fails with already_paused if already paused.
func (s *Service) PauseNode(userID, nodeID string) *apperr.Error {
	node, aerr := s.ownedNode(userID, nodeID)
	if aerr != nil {
		return aerr
	}
	if node.Status == domain.StatusPaused {
		return apperr.AlreadyPaused("node is already paused")
	}
	if err := s.nodes.UpdateStatus(nodeID, domain.StatusPaused); err != nil {
		return apperr.Internal("failed to pause node", err)
	}
	s.scheduler.StopNode(nodeID)
	return nil
}

// ResumeNode transitions a paused (or warning/down) node to active with a
// reset failure counter and reinstalls its timer. Fails with
// already_active only when the node is already active.
func (s *Service) ResumeNode(userID, nodeID string) *apperr.Error {
	node, aerr := s.ownedNode(userID, nodeID)
	if aerr != nil {
		return aerr
	}
	if node.Status == domain.StatusActive {
		return apperr.AlreadyActive("node is already active")
	}
	if err := s.nodes.ResetFailures(nodeID, time.Now()); err != nil {
		return apperr.Internal("failed to resume node", err)
	}
	node.Status = domain.StatusActive
	node.ConsecutiveFailures = 0
	s.scheduler.StartNode(node)
	return nil
}

// DeleteNode stops the timer, deletes all samples, then the node itself.
func (s *Service) DeleteNode(userID, nodeID string) *apperr.Error {
	if _, aerr := s.ownedNode(userID, nodeID); aerr != nil {
		return aerr
	}
	s.scheduler.StopNode(nodeID)
	if err := s.samples.DeleteByNode(nodeID); err != nil {
		return apperr.Internal("failed to delete node samples", err)
	}
	if err := s.nodes.Delete(nodeID); err != nil {
		return apperr.Internal("failed to delete node", err)
	}
	return nil
}

// TestProbe runs the Probe Executor once against nodeID's live
// configuration without persisting a sample or mutating node state. Unlike
// every other operation, a manual-trigger attempt on a node that exists
// but belongs to another user is reported as unauthorized rather than
// not_found — spec §7's explicit carve-out for TestProbe.
func (s *Service) TestProbe(userID, nodeID string) (probe.Outcome, *apperr.Error) {
	node, err := s.nodes.Read(nodeID)
	if err != nil {
		return probe.Outcome{}, apperr.NotFound("node not found")
	}
	if node.UserID != userID {
		return probe.Outcome{}, apperr.Unauthorized("node does not belong to the acting user")
	}
	return s.executor.Execute(context.Background(), node), nil
}

// TestConnection runs the Probe Executor against an arbitrary
// configuration with no backing node, for pre-create validation.
func (s *Service) TestConnection(spec NodeSpec) (probe.Outcome, *apperr.Error) {
	if err := validateSpec(spec); err != nil {
		return probe.Outcome{}, err
	}
	probeNode := &domain.Node{
		EndpointURL:         spec.EndpointURL,
		Method:              normalizeMethod(spec.Method),
		Headers:             spec.Headers,
		Body:                spec.Body,
		ExpectedStatusCodes: normalizeStatusCodes(spec.ExpectedStatusCodes),
	}
	return s.executor.Execute(context.Background(), probeNode), nil
}

// NodeDetail is GetNode's response shape: node fields plus its metrics.
type NodeDetail struct {
	Node    *domain.Node
	Metrics *telemetry.NodeMetrics
}

// GetNode returns a node plus its metrics, recent samples/errors, and
// 24h response-time history.
func (s *Service) GetNode(userID, nodeID string) (*NodeDetail, *apperr.Error) {
	node, aerr := s.ownedNode(userID, nodeID)
	if aerr != nil {
		return nil, aerr
	}
	metrics, err := s.aggregator.Metrics(nodeID, time.Time{})
	if err != nil {
		return nil, apperr.Internal("failed to compute node metrics", err)
	}
	return &NodeDetail{Node: node, Metrics: metrics}, nil
}

// PaginatedList is ListNodes' response shape.
type PaginatedList struct {
	Nodes []*domain.Node
	Total int
	Page  int
	Limit int
}

// ListNodes returns a paginated, searchable, filterable, sortable page of
// a user's nodes.
func (s *Service) ListNodes(userID string, filter database.NodeListFilter) (*PaginatedList, *apperr.Error) {
	nodes, total, err := s.nodes.ListByUser(userID, filter)
	if err != nil {
		return nil, apperr.Internal("failed to list nodes", err)
	}
	if filter.SortBy == "uptime" {
		s.sortByUptime(nodes, filter.SortOrder)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	return &PaginatedList{Nodes: nodes, Total: total, Page: page, Limit: limit}, nil
}

// sortByUptime re-sorts an already-fetched page by uptime_percent, since
// uptime has no stored column to ORDER BY in the store layer.
func (s *Service) sortByUptime(nodes []*domain.Node, sortOrder string) {
	type scored struct {
		node   *domain.Node
		uptime float64
	}
	scoredNodes := make([]scored, 0, len(nodes))
	for _, n := range nodes {
		uptime, err := s.samples.AggregateUptime(n.NodeID, time.Now().Add(-24*time.Hour))
		if err != nil {
			uptime = 0
		}
		scoredNodes = append(scoredNodes, scored{node: n, uptime: uptime})
	}
	ascending := !strings.EqualFold(sortOrder, "desc")
	for i := 1; i < len(scoredNodes); i++ {
		for j := i; j > 0; j-- {
			swap := scoredNodes[j-1].uptime > scoredNodes[j].uptime
			if !ascending {
				swap = scoredNodes[j-1].uptime < scoredNodes[j].uptime
			}
			if !swap {
				break
			}
			scoredNodes[j-1], scoredNodes[j] = scoredNodes[j], scoredNodes[j-1]
		}
	}
	for i, sc := range scoredNodes {
		nodes[i] = sc.node
	}
}

// DashboardOverview returns the fleet telemetry report for a user with
// the 5-minute window / 30-second bucket defaults of spec §6 — the exact
// window and bucket width are configured on the Aggregator itself.
func (s *Service) DashboardOverview(userID string) (*telemetry.DashboardReport, *apperr.Error) {
	report, err := s.aggregator.DashboardOverview(userID)
	if err != nil {
		return nil, apperr.Internal("failed to compute dashboard", err)
	}
	return report, nil
}

// SystemStatusReport is SystemStatus's response shape.
type SystemStatusReport struct {
	SystemStatus         string    `json:"system_status"`
	TotalNodes           int       `json:"total_nodes"`
	ActiveScheduledCount int       `json:"active_scheduled_count"`
	Version              string    `json:"version"`
	Timestamp            time.Time `json:"timestamp"`
}

// SystemStatus reports on every node in the system; unauthenticated.
func (s *Service) SystemStatus() (*SystemStatusReport, *apperr.Error) {
	hist, err := s.aggregator.SystemStatus()
	if err != nil {
		return nil, apperr.Internal("failed to compute system status", err)
	}
	status := "operational"
	if hist.Down > 0 {
		status = "degraded"
	}
	return &SystemStatusReport{
		SystemStatus:         status,
		TotalNodes:           hist.Total,
		ActiveScheduledCount: s.scheduler.ActiveCount(),
		Version:              probeExecutorVersion,
		Timestamp:            time.Now(),
	}, nil
}

// ownedNode reads a node and maps both "missing" and "not this user's" to
// the same not_found error, so existence is not leaked (spec §7).
func (s *Service) ownedNode(userID, nodeID string) (*domain.Node, *apperr.Error) {
	node, err := s.nodes.Read(nodeID)
	if err != nil {
		return nil, apperr.NotFound("node not found")
	}
	if node.UserID != userID {
		return nil, apperr.NotFound("node not found")
	}
	return node, nil
}

func applyPatch(node *domain.Node, patch NodePatch) {
	if patch.Name != nil {
		node.Name = *patch.Name
	}
	if patch.EndpointURL != nil {
		node.EndpointURL = *patch.EndpointURL
	}
	if patch.Method != nil {
		node.Method = normalizeMethod(*patch.Method)
	}
	if patch.Headers != nil {
		node.Headers = patch.Headers
	}
	if patch.Body != nil {
		node.Body = *patch.Body
	}
	if patch.CheckIntervalMs != nil {
		node.CheckIntervalMs = *patch.CheckIntervalMs
	}
	if patch.ExpectedStatusCodes != nil {
		node.ExpectedStatusCodes = patch.ExpectedStatusCodes
	}
	if patch.FailureThreshold != nil {
		node.FailureThreshold = *patch.FailureThreshold
	}
}

func normalizeMethod(m string) string {
	if m == "" {
		return domain.MethodGET
	}
	return strings.ToUpper(m)
}

// normalizeStatusCodes fills in the default status-code set only when the
// field was omitted entirely (nil). An explicitly empty slice is a
// distinct, rejected input — see validateSpec — never a request for the
// default.
func normalizeStatusCodes(codes []int) []int {
	if codes == nil {
		return domain.DefaultExpectedStatusCodes()
	}
	return codes
}

func normalizeThreshold(threshold int) int {
	if threshold == 0 {
		return 3
	}
	return threshold
}

func validateSpec(spec NodeSpec) *apperr.Error {
	if len(spec.Name) == 0 || len(spec.Name) > 100 {
		return apperr.Validation("name must be 1-100 characters")
	}
	if !strings.HasPrefix(spec.EndpointURL, "http://") && !strings.HasPrefix(spec.EndpointURL, "https://") {
		return apperr.Validation("endpoint_url must be an absolute http(s) URL")
	}
	method := normalizeMethod(spec.Method)
	if !validMethod(method) {
		return apperr.Validation(fmt.Sprintf("unsupported method: %s", method))
	}
	interval := spec.CheckIntervalMs
	if interval < domain.MinCheckIntervalMs || interval > domain.MaxCheckIntervalMs {
		return apperr.Validation("check_interval_ms must be between 15000 and 3600000")
	}
	threshold := normalizeThreshold(spec.FailureThreshold)
	if threshold < domain.MinFailureThreshold || threshold > domain.MaxFailureThreshold {
		return apperr.Validation("failure_threshold must be between 1 and 10")
	}
	if spec.ExpectedStatusCodes != nil && len(spec.ExpectedStatusCodes) == 0 {
		return apperr.Validation("expected_status_codes must not be empty")
	}
	for _, code := range normalizeStatusCodes(spec.ExpectedStatusCodes) {
		if code < domain.MinStatusCode || code > domain.MaxStatusCode {
			return apperr.Validation(fmt.Sprintf("invalid expected_status_codes entry: %d", code))
		}
	}
	return nil
}

func validateNode(node *domain.Node) *apperr.Error {
	return validateSpec(NodeSpec{
		Name:                node.Name,
		EndpointURL:         node.EndpointURL,
		Method:              node.Method,
		CheckIntervalMs:     node.CheckIntervalMs,
		FailureThreshold:    node.FailureThreshold,
		ExpectedStatusCodes: node.ExpectedStatusCodes,
	})
}

func validMethod(m string) bool {
	switch m {
	case domain.MethodGET, domain.MethodPOST, domain.MethodPUT, domain.MethodPATCH, domain.MethodDELETE:
		return true
	default:
		return false
	}
}
