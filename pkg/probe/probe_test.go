package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/last-emo-boy/watchdog-core/pkg/domain"
)

func testNode(url string) *domain.Node {
	return &domain.Node{
		NodeID:              "node-1",
		EndpointURL:         url,
		Method:              domain.MethodGET,
		Headers:             map[string]string{},
		ExpectedStatusCodes: []int{200, 201, 204},
	}
}

func TestExecute_SuccessClassifiesExpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	outcome := NewExecutor().Execute(context.Background(), testNode(server.URL))

	assert.True(t, outcome.Success)
	assert.Equal(t, http.StatusOK, outcome.StatusCode)
	assert.Empty(t, outcome.ErrorMessage)
	assert.GreaterOrEqual(t, outcome.ResponseTimeMs, 0)
}

func TestExecute_UnexpectedStatusIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	outcome := NewExecutor().Execute(context.Background(), testNode(server.URL))

	assert.False(t, outcome.Success)
	assert.Equal(t, http.StatusInternalServerError, outcome.StatusCode)
	assert.NotEmpty(t, outcome.ErrorMessage)
}

func TestExecute_TransportFailureYieldsSentinel(t *testing.T) {
	node := testNode("http://127.0.0.1:1")

	outcome := NewExecutor().Execute(context.Background(), node)

	assert.False(t, outcome.Success)
	assert.Equal(t, 0, outcome.StatusCode)
	assert.Equal(t, "Connection Failed", outcome.StatusText)
	assert.NotEmpty(t, outcome.ErrorMessage)
}

func TestExecute_SendsMethodHeadersAndBody(t *testing.T) {
	var gotMethod, gotHeader, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Probe-Test")
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	node := testNode(server.URL)
	node.Method = domain.MethodPOST
	node.Headers = map[string]string{"X-Probe-Test": "present"}
	node.Body = "payload"

	outcome := NewExecutor().Execute(context.Background(), node)

	assert.True(t, outcome.Success)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "present", gotHeader)
	assert.Equal(t, "payload", gotBody)
}

func TestExecute_TruncatesCapturedBody(t *testing.T) {
	large := make([]byte, maxCapturedBodyBytes+500)
	for i := range large {
		large[i] = 'a'
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(large)
	}))
	defer server.Close()

	outcome := NewExecutor().Execute(context.Background(), testNode(server.URL))

	assert.True(t, outcome.Success)
	assert.LessOrEqual(t, len(outcome.ResponseBody), maxCapturedBodyBytes)
}
