package domain

import "time"

// Node statuses. Paused iff the Scheduler holds no timer for the node.
const (
	StatusActive  = "active"
	StatusPaused  = "paused"
	StatusWarning = "warning"
	StatusDown    = "down"
)

// Probe methods supported against a node's endpoint.
const (
	MethodGET    = "GET"
	MethodPOST   = "POST"
	MethodPUT    = "PUT"
	MethodPATCH  = "PATCH"
	MethodDELETE = "DELETE"
)

// WarningThreshold is the fixed consecutive-failure count at which a node
// transitions to warning, independent of the user-configured down threshold.
const WarningThreshold = 2

const (
	MinCheckIntervalMs  = 15000
	MaxCheckIntervalMs  = 3600000
	MinFailureThreshold = 1
	MaxFailureThreshold = 10
	MinStatusCode       = 100
	MaxStatusCode       = 599
)

// Node is a user-owned monitored endpoint.
type Node struct {
	NodeID              string            `json:"node_id"`
	UserID              string            `json:"user_id"`
	Name                string            `json:"name"`
	EndpointURL         string            `json:"endpoint_url"`
	Method              string            `json:"method"`
	Headers             map[string]string `json:"headers"`
	Body                string            `json:"body,omitempty"`
	CheckIntervalMs     int               `json:"check_interval_ms"`
	ExpectedStatusCodes []int             `json:"expected_status_codes"`
	FailureThreshold    int               `json:"failure_threshold"`
	Status              string            `json:"status"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	LastCheckAt         *time.Time        `json:"last_check_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// DefaultExpectedStatusCodes is applied when a create spec omits the field.
func DefaultExpectedStatusCodes() []int {
	return []int{200, 201, 204}
}

// Clone returns a deep-enough copy safe to hand to a concurrent reader
// (headers map, status-code slice and last_check_at are copied).
func (n *Node) Clone() *Node {
	cp := *n
	cp.Headers = make(map[string]string, len(n.Headers))
	for k, v := range n.Headers {
		cp.Headers[k] = v
	}
	cp.ExpectedStatusCodes = append([]int(nil), n.ExpectedStatusCodes...)
	if n.LastCheckAt != nil {
		t := *n.LastCheckAt
		cp.LastCheckAt = &t
	}
	return &cp
}

// ExpectsStatus reports whether code is in the node's accepted set.
func (n *Node) ExpectsStatus(code int) bool {
	for _, c := range n.ExpectedStatusCodes {
		if c == code {
			return true
		}
	}
	return false
}
