package database

import (
	"time"

	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

// NodeStore is the abstract persistence collaborator for Node (spec §6).
// NodeRepository is its sqlite-backed implementation; the Scheduler and the
// core facade depend on this interface, not on *DB, so tests can swap in a
// fake store without a real database.
type NodeStore interface {
	Create(node *domain.Node) error
	Read(nodeID string) (*domain.Node, error)
	Update(node *domain.Node) error
	Delete(nodeID string) error
	ListByUser(userID string, filter NodeListFilter) ([]*domain.Node, int, error)
	ListActive() ([]*domain.Node, error)
	ListAll() ([]*domain.Node, error)
	CountByUser(userID string) (int, error)
	IncrementFailures(nodeID string, newCount int, status string, checkedAt time.Time) error
	ResetFailures(nodeID string, checkedAt time.Time) error
	UpdateStatus(nodeID string, status string) error
}

// NodeListFilter captures ListNodes' {page, limit, search, status,
// sort_by, sort_order} parameters (spec §6).
type NodeListFilter struct {
	Page      int
	Limit     int
	Search    string
	Status    string
	SortBy    string
	SortOrder string
}

// SampleStore is the abstract persistence collaborator for Sample (spec §6).
type SampleStore interface {
	Append(sample *domain.Sample) error
	ListByNode(nodeID string, limit int) ([]*domain.Sample, error)
	ListErrorsByNode(nodeID string, limit int) ([]*domain.Sample, error)
	ListByNodes(nodeIDs []string, limit int) ([]*domain.Sample, error)
	DeleteByNode(nodeID string) error
	AggregateAverage(nodeID string, since time.Time) (float64, error)
	AggregateUptime(nodeID string, since time.Time) (float64, error)
	AggregateCounts(nodeID string) (success, failure int, err error)
	AggregateBuckets(nodeIDs []string, since time.Time, bucketSeconds int) ([]Bucket, error)
}

// Bucket is one fixed-width time-bucket summary (spec §4.4).
type Bucket struct {
	TimestampMs   int64
	TotalChecks   int
	FailedChecks  int
	AvgResponseMs float64
	P99ResponseMs float64
}
