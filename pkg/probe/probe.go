package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

// maxCapturedBodyBytes bounds the diagnostic body capture kept on an
// outcome. Timing still accounts for draining the full body.
const maxCapturedBodyBytes = 10000

// requestTimeout is the hard ceiling on one probe, covering connection,
// TLS handshake, and response body read, per spec §4.1.
const requestTimeout = 30 * time.Second

// Executor issues one outbound HTTP(S) request against a node's
// configuration and classifies the outcome. It holds no state and
// persists nothing — the Scheduler owns sample persistence and state
// transition.
type Executor struct {
	client *http.Client
}

// NewExecutor builds an Executor with a shared transport. TLS verification
// is enabled; the teacher's probe.go disabled it wholesale via
// InsecureSkipVerify, which this rewrite does not carry forward since the
// spec requires verification to be on.
func NewExecutor() *Executor {
	return &Executor{
		client: &http.Client{
			Timeout:   requestTimeout,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{}},
		},
	}
}

// Outcome is the structured result of one probe (spec §4.1).
type Outcome struct {
	StatusCode      int
	StatusText      string
	ResponseTimeMs  int
	Success         bool
	ErrorMessage    string
	RequestHeaders  map[string]string
	ResponseHeaders map[string]string
	ResponseBody    string
	CompletedAt     time.Time
}

// Execute performs the probe described by node's effective configuration.
// It never returns an error — every transport-level failure is folded
// into a failing Outcome, matching the "never fails" guarantee in spec
// §4.1.
func (e *Executor) Execute(ctx context.Context, node *domain.Node) Outcome {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if node.Body != "" && requestHasBody(node.Method) {
		bodyReader = bytes.NewBufferString(node.Body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method(node.Method), node.EndpointURL, bodyReader)
	if err != nil {
		return e.transportFailure(start, fmt.Sprintf("invalid request: %v", err), node.Headers)
	}
	for k, v := range node.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return e.transportFailure(start, fmt.Sprintf("request failed: %v", err), node.Headers)
	}
	defer resp.Body.Close()

	captured, drainErr := drainAndCapture(resp.Body, maxCapturedBodyBytes)
	elapsed := time.Since(start)
	if drainErr != nil {
		return Outcome{
			StatusCode:     0,
			StatusText:     "Connection Failed",
			ResponseTimeMs: roundMs(elapsed),
			Success:        false,
			ErrorMessage:   fmt.Sprintf("failed to read response body: %v", drainErr),
			RequestHeaders: copyHeaders(node.Headers),
			CompletedAt:    time.Now(),
		}
	}

	success := node.ExpectsStatus(resp.StatusCode)
	outcome := Outcome{
		StatusCode:      resp.StatusCode,
		StatusText:      http.StatusText(resp.StatusCode),
		ResponseTimeMs:  roundMs(elapsed),
		Success:         success,
		RequestHeaders:  copyHeaders(node.Headers),
		ResponseHeaders: flattenHeaders(resp.Header),
		ResponseBody:    captured,
		CompletedAt:     time.Now(),
	}
	if !success {
		outcome.ErrorMessage = fmt.Sprintf("unexpected status code %d", resp.StatusCode)
	}
	return outcome
}

func (e *Executor) transportFailure(start time.Time, message string, requestHeaders map[string]string) Outcome {
	return Outcome{
		StatusCode:     0,
		StatusText:     "Connection Failed",
		ResponseTimeMs: roundMs(time.Since(start)),
		Success:        false,
		ErrorMessage:   message,
		RequestHeaders: copyHeaders(requestHeaders),
		CompletedAt:    time.Now(),
	}
}

func requestHasBody(m string) bool {
	switch method(m) {
	case domain.MethodPOST, domain.MethodPUT, domain.MethodPATCH:
		return true
	default:
		return false
	}
}

func method(m string) string {
	if m == "" {
		return domain.MethodGET
	}
	return m
}

func roundMs(d time.Duration) int {
	return int(d.Round(time.Millisecond) / time.Millisecond)
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// drainAndCapture reads the entire body (so timing reflects the full
// transfer) while retaining only the first limit bytes for diagnostics.
func drainAndCapture(r io.Reader, limit int) (string, error) {
	limited := io.LimitReader(r, int64(limit))
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(limited); err != nil {
		return "", err
	}
	captured := buf.String()

	if _, err := io.Copy(io.Discard, r); err != nil {
		return captured, err
	}
	return captured, nil
}
