package database

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

// SampleRepository provides sqlite-backed operations for probe samples.
type SampleRepository struct {
	db *DB
}

// NewSampleRepository creates a new sample repository.
func NewSampleRepository(db *DB) *SampleRepository {
	return &SampleRepository{db: db}
}

// Append inserts one sample. Samples are immutable and append-only.
func (r *SampleRepository) Append(sample *domain.Sample) error {
	query := `
		INSERT INTO samples (
			sample_id, node_id, status_code, status_text,
			response_time_ms, success, error_message, created_at
		) VALUES (
			:sample_id, :node_id, :status_code, :status_text,
			:response_time_ms, :success, :error_message, :created_at
		)
	`
	row := &sampleRow{
		SampleID:       sample.SampleID,
		NodeID:         sample.NodeID,
		StatusCode:     sample.StatusCode,
		StatusText:     sample.StatusText,
		ResponseTimeMs: sample.ResponseTimeMs,
		Success:        sample.Success,
		ErrorMessage:   sample.ErrorMessage,
		CreatedAt:      sample.CreatedAt,
	}
	if _, err := r.db.NamedExec(query, row); err != nil {
		return fmt.Errorf("failed to append sample: %w", err)
	}
	return nil
}

// ListByNode returns the most recent samples for a node, newest first.
func (r *SampleRepository) ListByNode(nodeID string, limit int) ([]*domain.Sample, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []sampleRow
	query := `
		SELECT * FROM samples
		WHERE node_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`
	if err := r.db.Select(&rows, query, nodeID, limit); err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	return toSamples(rows), nil
}

// ListErrorsByNode returns the most recent failed samples for a node.
func (r *SampleRepository) ListErrorsByNode(nodeID string, limit int) ([]*domain.Sample, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []sampleRow
	query := `
		SELECT * FROM samples
		WHERE node_id = ? AND success = 0
		ORDER BY created_at DESC
		LIMIT ?
	`
	if err := r.db.Select(&rows, query, nodeID, limit); err != nil {
		return nil, fmt.Errorf("failed to list sample errors: %w", err)
	}
	return toSamples(rows), nil
}

// ListByNodes returns the most recent samples across a set of nodes,
// newest first.
func (r *SampleRepository) ListByNodes(nodeIDs []string, limit int) ([]*domain.Sample, error) {
	if len(nodeIDs) == 0 {
		return []*domain.Sample{}, nil
	}
	if limit <= 0 {
		limit = 100
	}

	placeholders := make([]string, len(nodeIDs))
	args := make([]interface{}, 0, len(nodeIDs)+1)
	for i, id := range nodeIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT * FROM samples
		WHERE node_id IN (%s)
		ORDER BY created_at DESC
		LIMIT ?
	`, strings.Join(placeholders, ","))

	var rows []sampleRow
	if err := r.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list samples: %w", err)
	}
	return toSamples(rows), nil
}

// DeleteByNode removes every sample for a node. The core facade's
// DeleteNode calls it before deleting the node row; the nodes table's ON
// DELETE CASCADE covers any sample left behind.
func (r *SampleRepository) DeleteByNode(nodeID string) error {
	if _, err := r.db.Exec(`DELETE FROM samples WHERE node_id = ?`, nodeID); err != nil {
		return fmt.Errorf("failed to delete samples: %w", err)
	}
	return nil
}

// AggregateAverage returns the mean response time, in milliseconds, of
// successful samples for a node since the given time. Returns 0 when there
// are no qualifying samples.
func (r *SampleRepository) AggregateAverage(nodeID string, since time.Time) (float64, error) {
	var avg sql.NullFloat64
	query := `
		SELECT AVG(response_time_ms) FROM samples
		WHERE node_id = ? AND success = 1 AND created_at >= ?
	`
	if err := r.db.Get(&avg, query, nodeID, since); err != nil {
		return 0, fmt.Errorf("failed to aggregate average: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

// AggregateUptime returns the percentage of samples for a node that
// succeeded since the given time. Returns 100 when there are no samples in
// the window — an unmonitored window is not a down window.
func (r *SampleRepository) AggregateUptime(nodeID string, since time.Time) (float64, error) {
	total, success, err := r.countWindow(nodeID, since)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 100, nil
	}
	return (float64(success) / float64(total)) * 100, nil
}

func (r *SampleRepository) countWindow(nodeID string, since time.Time) (total, success int, err error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(success), 0) FROM samples
		WHERE node_id = ? AND created_at >= ?
	`
	row := r.db.QueryRow(query, nodeID, since)
	if err := row.Scan(&total, &success); err != nil {
		return 0, 0, fmt.Errorf("failed to count window: %w", err)
	}
	return total, success, nil
}

// AggregateCounts returns the all-time success/failure counts for a node.
func (r *SampleRepository) AggregateCounts(nodeID string) (success, failure int, err error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0)
		FROM samples WHERE node_id = ?
	`
	row := r.db.QueryRow(query, nodeID)
	if err := row.Scan(&success, &failure); err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate counts: %w", err)
	}
	return success, failure, nil
}

// AggregateBuckets partitions every sample across nodeIDs since the given
// time into fixed-width buckets (bucket key = floor(ts_ms / width_ms) *
// width_ms) and summarizes each one: total/failed checks, average response
// time, and an approximate p99 via nearest-rank. SQLite has no percentile
// aggregate, so buckets are assembled by pulling the raw rows ordered by
// time and folding them in Go — the same shape as the teacher's
// MetricRepository.Query, which also does its rollup after the scan rather
// than in SQL.
func (r *SampleRepository) AggregateBuckets(nodeIDs []string, since time.Time, bucketSeconds int) ([]Bucket, error) {
	if len(nodeIDs) == 0 || bucketSeconds <= 0 {
		return []Bucket{}, nil
	}

	placeholders := make([]string, len(nodeIDs))
	args := make([]interface{}, 0, len(nodeIDs)+1)
	for i, id := range nodeIDs {
		placeholders[i] = "?"
		args = append(args, id)
	}
	args = append(args, since)

	query := fmt.Sprintf(`
		SELECT * FROM samples
		WHERE node_id IN (%s) AND created_at >= ?
		ORDER BY created_at ASC
	`, strings.Join(placeholders, ","))

	var rows []sampleRow
	if err := r.db.Select(&rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load samples for bucketing: %w", err)
	}

	widthMs := int64(bucketSeconds) * 1000
	type accumulator struct {
		total, failed int
		responseTimes []int
	}
	buckets := map[int64]*accumulator{}
	var keys []int64

	for _, row := range rows {
		ts := row.CreatedAt.UnixMilli()
		key := (ts / widthMs) * widthMs
		acc, ok := buckets[key]
		if !ok {
			acc = &accumulator{}
			buckets[key] = acc
			keys = append(keys, key)
		}
		acc.total++
		if !row.Success {
			acc.failed++
		}
		acc.responseTimes = append(acc.responseTimes, row.ResponseTimeMs)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	result := make([]Bucket, 0, len(keys))
	for _, key := range keys {
		acc := buckets[key]
		result = append(result, Bucket{
			TimestampMs:   key,
			TotalChecks:   acc.total,
			FailedChecks:  acc.failed,
			AvgResponseMs: average(acc.responseTimes),
			P99ResponseMs: nearestRankP99(acc.responseTimes),
		})
	}
	return result, nil
}

func average(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

// nearestRankP99 approximates the 99th percentile via nearest-rank: sort
// ascending and pick the value at rank ceil(0.99*n). Buckets with fewer
// than 100 samples fall back to the average, since nearest-rank on a small
// sample is dominated by its single slowest outlier.
func nearestRankP99(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	if len(values) < 100 {
		return average(values)
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	rank := (len(sorted)*99 + 99) / 100 // ceil(0.99*n), 1-based
	return float64(sorted[rank-1])
}

func toSamples(rows []sampleRow) []*domain.Sample {
	samples := make([]*domain.Sample, 0, len(rows))
	for i := range rows {
		samples = append(samples, rows[i].toDomain())
	}
	return samples
}
