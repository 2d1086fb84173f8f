package domain

import "time"

// Sample is the immutable result of one probe. Samples are append-only;
// deleting a node cascades to deletion of its samples.
type Sample struct {
	SampleID       string    `json:"sample_id"`
	NodeID         string    `json:"node_id"`
	StatusCode     int       `json:"status_code"`
	StatusText     string    `json:"status_text"`
	ResponseTimeMs int       `json:"response_time_ms"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
