package database

import (
	"encoding/json"
	"time"

	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

// nodeRow is the sqlx scan target for the nodes table. JSON-valued columns
// (headers, expected_status_codes) are kept as TEXT and converted via
// Marshal/Unmarshal helpers, the same split the teacher uses for
// Service.Environment in the original models.go.
type nodeRow struct {
	NodeID              string     `db:"node_id"`
	UserID              string     `db:"user_id"`
	Name                string     `db:"name"`
	EndpointURL         string     `db:"endpoint_url"`
	Method              string     `db:"method"`
	HeadersJSON         string     `db:"headers"`
	Body                string     `db:"body"`
	CheckIntervalMs     int        `db:"check_interval_ms"`
	ExpectedCodesJSON   string     `db:"expected_status_codes"`
	FailureThreshold    int        `db:"failure_threshold"`
	Status              string     `db:"status"`
	ConsecutiveFailures int        `db:"consecutive_failures"`
	LastCheckAt         *time.Time `db:"last_check_at"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// MarshalHeaders converts a headers map to a JSON string for storage.
func MarshalHeaders(headers map[string]string) (string, error) {
	if headers == nil {
		return "{}", nil
	}
	data, err := json.Marshal(headers)
	return string(data), err
}

// UnmarshalHeaders converts a stored JSON string back to a headers map.
func UnmarshalHeaders(data string) (map[string]string, error) {
	headers := map[string]string{}
	if data == "" {
		return headers, nil
	}
	if err := json.Unmarshal([]byte(data), &headers); err != nil {
		return nil, err
	}
	return headers, nil
}

// MarshalStatusCodes converts an expected-status-code set to a JSON string.
func MarshalStatusCodes(codes []int) (string, error) {
	if codes == nil {
		return "[]", nil
	}
	data, err := json.Marshal(codes)
	return string(data), err
}

// UnmarshalStatusCodes converts a stored JSON string back to a code slice.
func UnmarshalStatusCodes(data string) ([]int, error) {
	codes := []int{}
	if data == "" {
		return codes, nil
	}
	if err := json.Unmarshal([]byte(data), &codes); err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *nodeRow) toDomain() (*domain.Node, error) {
	headers, err := UnmarshalHeaders(r.HeadersJSON)
	if err != nil {
		return nil, err
	}
	codes, err := UnmarshalStatusCodes(r.ExpectedCodesJSON)
	if err != nil {
		return nil, err
	}
	return &domain.Node{
		NodeID:              r.NodeID,
		UserID:              r.UserID,
		Name:                r.Name,
		EndpointURL:         r.EndpointURL,
		Method:              r.Method,
		Headers:             headers,
		Body:                r.Body,
		CheckIntervalMs:     r.CheckIntervalMs,
		ExpectedStatusCodes: codes,
		FailureThreshold:    r.FailureThreshold,
		Status:              r.Status,
		ConsecutiveFailures: r.ConsecutiveFailures,
		LastCheckAt:         r.LastCheckAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}, nil
}

func newNodeRow(n *domain.Node) (*nodeRow, error) {
	headersJSON, err := MarshalHeaders(n.Headers)
	if err != nil {
		return nil, err
	}
	codesJSON, err := MarshalStatusCodes(n.ExpectedStatusCodes)
	if err != nil {
		return nil, err
	}
	return &nodeRow{
		NodeID:              n.NodeID,
		UserID:              n.UserID,
		Name:                n.Name,
		EndpointURL:         n.EndpointURL,
		Method:              n.Method,
		HeadersJSON:         headersJSON,
		Body:                n.Body,
		CheckIntervalMs:     n.CheckIntervalMs,
		ExpectedCodesJSON:   codesJSON,
		FailureThreshold:    n.FailureThreshold,
		Status:              n.Status,
		ConsecutiveFailures: n.ConsecutiveFailures,
		LastCheckAt:         n.LastCheckAt,
		CreatedAt:           n.CreatedAt,
		UpdatedAt:           n.UpdatedAt,
	}, nil
}

// sampleRow is the sqlx scan target for the samples table.
type sampleRow struct {
	SampleID       string    `db:"sample_id"`
	NodeID         string    `db:"node_id"`
	StatusCode     int       `db:"status_code"`
	StatusText     string    `db:"status_text"`
	ResponseTimeMs int       `db:"response_time_ms"`
	Success        bool      `db:"success"`
	ErrorMessage   string    `db:"error_message"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r *sampleRow) toDomain() *domain.Sample {
	return &domain.Sample{
		SampleID:       r.SampleID,
		NodeID:         r.NodeID,
		StatusCode:     r.StatusCode,
		StatusText:     r.StatusText,
		ResponseTimeMs: r.ResponseTimeMs,
		Success:        r.Success,
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt,
	}
}
