package database

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

// NodeRepository provides sqlite-backed operations for nodes.
type NodeRepository struct {
	db *DB
}

// NewNodeRepository creates a new node repository.
func NewNodeRepository(db *DB) *NodeRepository {
	return &NodeRepository{db: db}
}

// Create inserts a new node. Callers are responsible for assigning NodeID
// (the core facade generates it via uuid before persisting, matching the
// teacher's RegisteredServiceRepository.Create convention).
func (r *NodeRepository) Create(node *domain.Node) error {
	row, err := newNodeRow(node)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}

	query := `
		INSERT INTO nodes (
			node_id, user_id, name, endpoint_url, method, headers, body,
			check_interval_ms, expected_status_codes, failure_threshold,
			status, consecutive_failures, last_check_at
		) VALUES (
			:node_id, :user_id, :name, :endpoint_url, :method, :headers, :body,
			:check_interval_ms, :expected_status_codes, :failure_threshold,
			:status, :consecutive_failures, :last_check_at
		)
	`
	if _, err := r.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	return nil
}

// Read gets a node by ID. Returns sql.ErrNoRows when absent; the
// core facade maps that to apperr.NotFound.
func (r *NodeRepository) Read(nodeID string) (*domain.Node, error) {
	var row nodeRow
	query := `SELECT * FROM nodes WHERE node_id = ?`
	if err := r.db.Get(&row, query, nodeID); err != nil {
		return nil, err
	}
	return row.toDomain()
}

// Update persists the full node record (configuration + state together) in
// one statement. The CRUD path (UpdateNode) uses it; the tick path writes
// the (status, consecutive_failures, last_check_at) triple through
// IncrementFailures/ResetFailures instead.
func (r *NodeRepository) Update(node *domain.Node) error {
	row, err := newNodeRow(node)
	if err != nil {
		return fmt.Errorf("failed to encode node: %w", err)
	}

	query := `
		UPDATE nodes SET
			name = :name,
			endpoint_url = :endpoint_url,
			method = :method,
			headers = :headers,
			body = :body,
			check_interval_ms = :check_interval_ms,
			expected_status_codes = :expected_status_codes,
			failure_threshold = :failure_threshold,
			status = :status,
			consecutive_failures = :consecutive_failures,
			last_check_at = :last_check_at
		WHERE node_id = :node_id
	`
	result, err := r.db.NamedExec(query, row)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	return requireRowAffected(result, "node not found")
}

// Delete removes a node. Cascades to samples via the FK constraint.
func (r *NodeRepository) Delete(nodeID string) error {
	result, err := r.db.Exec(`DELETE FROM nodes WHERE node_id = ?`, nodeID)
	if err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}
	return requireRowAffected(result, "node not found")
}

// ListByUser returns a page of a user's nodes per spec §6's ListNodes.
func (r *NodeRepository) ListByUser(userID string, filter NodeListFilter) ([]*domain.Node, int, error) {
	where := []string{"user_id = ?"}
	args := []interface{}{userID}

	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.Search != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+filter.Search+"%")
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM nodes WHERE %s", whereClause)
	if err := r.db.Get(&total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count nodes: %w", err)
	}

	orderCol := sortColumn(filter.SortBy)
	orderDir := "ASC"
	if strings.EqualFold(filter.SortOrder, "desc") {
		orderDir = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := (page - 1) * limit

	query := fmt.Sprintf(
		"SELECT * FROM nodes WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?",
		whereClause, orderCol, orderDir,
	)
	args = append(args, limit, offset)

	var rows []nodeRow
	if err := r.db.Select(&rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]*domain.Node, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toDomain()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to decode node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, total, nil
}

// sortColumn maps the public sort_by enum {name, uptime, last_check,
// created_at} to a nodes-table column. uptime has no stored column — it is
// a derived telemetry figure — so ListNodes falls back to created_at and
// the caller re-sorts the page in memory when uptime sort is requested.
func sortColumn(sortBy string) string {
	switch sortBy {
	case "name":
		return "name"
	case "last_check":
		return "last_check_at"
	case "created_at", "":
		return "created_at"
	default:
		return "created_at"
	}
}

// ListActive returns every node the Scheduler must hold a timer for at
// boot — any status other than paused (active, warning, down all probe).
func (r *NodeRepository) ListActive() ([]*domain.Node, error) {
	var rows []nodeRow
	query := `SELECT * FROM nodes WHERE status != ? ORDER BY created_at ASC`
	if err := r.db.Select(&rows, query, domain.StatusPaused); err != nil {
		return nil, fmt.Errorf("failed to list active nodes: %w", err)
	}
	return decodeRows(rows)
}

// ListAll returns every node in the system (used by SystemStatus).
func (r *NodeRepository) ListAll() ([]*domain.Node, error) {
	var rows []nodeRow
	if err := r.db.Select(&rows, `SELECT * FROM nodes`); err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	return decodeRows(rows)
}

// CountByUser returns the number of nodes owned by a user.
func (r *NodeRepository) CountByUser(userID string) (int, error) {
	var count int
	if err := r.db.Get(&count, `SELECT COUNT(*) FROM nodes WHERE user_id = ?`, userID); err != nil {
		return 0, fmt.Errorf("failed to count nodes: %w", err)
	}
	return count, nil
}

// IncrementFailures persists the State Transition Engine's failure-path
// mutation: new consecutive_failures, possibly a new status, and
// last_check_at — always updated regardless of outcome per spec §9.
func (r *NodeRepository) IncrementFailures(nodeID string, newCount int, status string, checkedAt time.Time) error {
	query := `
		UPDATE nodes
		SET consecutive_failures = ?, status = ?, last_check_at = ?
		WHERE node_id = ?
	`
	result, err := r.db.Exec(query, newCount, status, checkedAt, nodeID)
	if err != nil {
		return fmt.Errorf("failed to increment failures: %w", err)
	}
	return requireRowAffected(result, "node not found")
}

// ResetFailures persists the State Transition Engine's success-path
// mutation: consecutive_failures = 0, status = active, last_check_at set.
func (r *NodeRepository) ResetFailures(nodeID string, checkedAt time.Time) error {
	query := `
		UPDATE nodes
		SET consecutive_failures = 0, status = ?, last_check_at = ?
		WHERE node_id = ?
	`
	result, err := r.db.Exec(query, domain.StatusActive, checkedAt, nodeID)
	if err != nil {
		return fmt.Errorf("failed to reset failures: %w", err)
	}
	return requireRowAffected(result, "node not found")
}

// UpdateStatus sets status alone — used by PauseNode, which leaves
// consecutive_failures as it is. ResumeNode goes through ResetFailures.
func (r *NodeRepository) UpdateStatus(nodeID string, status string) error {
	result, err := r.db.Exec(`UPDATE nodes SET status = ? WHERE node_id = ?`, status, nodeID)
	if err != nil {
		return fmt.Errorf("failed to update node status: %w", err)
	}
	return requireRowAffected(result, "node not found")
}

func decodeRows(rows []nodeRow) ([]*domain.Node, error) {
	nodes := make([]*domain.Node, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toDomain()
		if err != nil {
			return nil, fmt.Errorf("failed to decode node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

type rowsAffecter interface {
	RowsAffected() (int64, error)
}

func requireRowAffected(result rowsAffecter, notFoundMsg string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return errors.New(notFoundMsg)
	}
	return nil
}
