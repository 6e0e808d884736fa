package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/viant/hitl"
	mrequest "github.com/viant/hitl/model/request"
)

func newTestServer(t *testing.T, options ...hitl.Option) (*hitl.Service, *httptest.Server) {
	t.Helper()
	service := hitl.New(options...)
	server := httptest.NewServer(New(service, zerolog.Nop()).Router())
	t.Cleanup(server.Close)
	return service, server
}

func submitBody(agentID string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"agent_id": agentID,
		"intent":   "APPROVAL",
		"urgency":  "HIGH",
		"context_package": map[string]interface{}{
			"summary": "deploy v2 to production",
		},
		"timeout_policy": map[string]interface{}{
			"timeout_seconds": 600,
			"fallback":        "ESCALATE",
		},
		"routing_hints": map[string]interface{}{
			"responder_id": "oncall-1",
		},
	})
	return body
}

func decodeRequest(t *testing.T, response *http.Response) *mrequest.Request {
	t.Helper()
	defer response.Body.Close()
	var decoded mrequest.Request
	assert.NoError(t, json.NewDecoder(response.Body).Decode(&decoded))
	return &decoded
}

func awaitState(t *testing.T, baseURL, id string, state mrequest.State) *mrequest.Request {
	t.Helper()
	var current *mrequest.Request
	assert.Eventually(t, func() bool {
		response, err := http.Get(baseURL + "/v1/requests/" + id + "?actor=watcher")
		if err != nil || response.StatusCode != http.StatusOK {
			return false
		}
		current = decodeRequest(t, response)
		return current.State == state
	}, 3*time.Second, 10*time.Millisecond)
	return current
}

func TestSubmitAndLifecycle(t *testing.T) {
	_, server := newTestServer(t)

	response, err := http.Post(server.URL+"/v1/requests", "application/json", bytes.NewReader(submitBody("agent-7")))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, response.StatusCode)
	created := decodeRequest(t, response)
	assert.NotEmpty(t, created.RequestID)
	assert.Equal(t, "agent-7", created.AgentID)

	// routing runs asynchronously after submission
	awaitState(t, server.URL, created.RequestID, mrequest.StatePendingResponse)

	respondPayload, _ := json.Marshal(map[string]interface{}{
		"response_data": map[string]interface{}{"decision": "approved"},
		"responded_by":  "oncall-1",
	})
	response, err = http.Post(server.URL+"/v1/requests/"+created.RequestID+"/respond", "application/json", bytes.NewReader(respondPayload))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	responded := decodeRequest(t, response)
	assert.Equal(t, mrequest.StateResponded, responded.State)
	assert.Equal(t, "oncall-1", responded.RespondedBy)

	// agent read performs delivery
	response, err = http.Get(server.URL + "/v1/requests/" + created.RequestID + "?actor=agent-7")
	assert.NoError(t, err)
	delivered := decodeRequest(t, response)
	assert.Equal(t, mrequest.StateDelivered, delivered.State)
}

func TestSubmitValidationAndIdempotency(t *testing.T) {
	_, server := newTestServer(t)

	invalid, _ := json.Marshal(map[string]interface{}{"agent_id": ""})
	response, err := http.Post(server.URL+"/v1/requests", "application/json", bytes.NewReader(invalid))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	response.Body.Close()

	first := mustSubmit(t, server.URL, "agent-1", "dedupe-key-1")
	second := mustSubmit(t, server.URL, "agent-1", "dedupe-key-1")
	assert.Equal(t, first.RequestID, second.RequestID)
}

func mustSubmit(t *testing.T, baseURL, agentID, idempotencyKey string) *mrequest.Request {
	t.Helper()
	request, _ := http.NewRequest(http.MethodPost, baseURL+"/v1/requests", bytes.NewReader(submitBody(agentID)))
	request.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		request.Header.Set("Idempotency-Key", idempotencyKey)
	}
	response, err := http.DefaultClient.Do(request)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, response.StatusCode)
	return decodeRequest(t, response)
}

func TestGetUnknownRequest(t *testing.T) {
	_, server := newTestServer(t)
	response, err := http.Get(server.URL + "/v1/requests/no-such-id")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, response.StatusCode)
	response.Body.Close()
}

func TestCancelConflicts(t *testing.T) {
	_, server := newTestServer(t)
	created := mustSubmit(t, server.URL, "agent-2", "")
	awaitState(t, server.URL, created.RequestID, mrequest.StatePendingResponse)

	cancel, _ := http.NewRequest(http.MethodDelete, server.URL+"/v1/requests/"+created.RequestID+"?actor=agent-2", nil)
	response, err := http.DefaultClient.Do(cancel)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	cancelled := decodeRequest(t, response)
	assert.Equal(t, mrequest.StateCancelled, cancelled.State)

	// terminal state rejects a second cancellation
	response, err = http.DefaultClient.Do(cancel)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusConflict, response.StatusCode)
	response.Body.Close()

	// and a late response loses to the cancellation
	respondPayload, _ := json.Marshal(map[string]interface{}{
		"response_data": map[string]interface{}{"decision": "approved"},
		"responded_by":  "oncall-1",
	})
	response, err = http.Post(server.URL+"/v1/requests/"+created.RequestID+"/respond", "application/json", bytes.NewReader(respondPayload))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusConflict, response.StatusCode)
	response.Body.Close()
}

func TestListAndAudit(t *testing.T) {
	_, server := newTestServer(t)
	created := mustSubmit(t, server.URL, "agent-list", "")
	mustSubmit(t, server.URL, "agent-other", "")

	response, err := http.Get(server.URL + "/v1/requests?agent_id=agent-list")
	assert.NoError(t, err)
	var listing struct {
		Requests []*mrequest.Request `json:"requests"`
		Count    int                 `json:"count"`
	}
	assert.NoError(t, json.NewDecoder(response.Body).Decode(&listing))
	response.Body.Close()
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, created.RequestID, listing.Requests[0].RequestID)

	response, err = http.Get(server.URL + "/v1/requests?state=NOT_A_STATE")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	response.Body.Close()

	response, err = http.Get(server.URL + "/v1/audit?request_id=" + created.RequestID + "&event_type=CR_SUBMITTED")
	assert.NoError(t, err)
	var trail struct {
		Count int `json:"count"`
	}
	assert.NoError(t, json.NewDecoder(response.Body).Decode(&trail))
	response.Body.Close()
	assert.Equal(t, 1, trail.Count)
}

func TestAPIKeyAuthentication(t *testing.T) {
	config := hitl.DefaultConfig()
	config.Gateway.APIKeys = []string{"secret-key"}
	_, server := newTestServer(t, hitl.WithConfig(config))

	response, err := http.Get(server.URL + "/v1/requests")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, response.StatusCode)
	response.Body.Close()

	request, _ := http.NewRequest(http.MethodGet, server.URL+"/v1/requests", nil)
	request.Header.Set("Authorization", "Bearer secret-key")
	response, err = http.DefaultClient.Do(request)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()

	// health stays open for probes
	response, err = http.Get(server.URL + "/healthz")
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, response.StatusCode)
	response.Body.Close()
}

func TestEventStream(t *testing.T) {
	_, server := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/events?agent_id=agent-sse", nil)
	assert.NoError(t, err)
	response, err := http.DefaultClient.Do(request)
	assert.NoError(t, err)
	defer response.Body.Close()
	assert.Equal(t, http.StatusOK, response.StatusCode)
	assert.Equal(t, "text/event-stream", response.Header.Get("Content-Type"))

	reader := bufio.NewReader(response.Body)
	line, err := reader.ReadString('\n')
	assert.NoError(t, err)
	assert.Equal(t, ": connected", strings.TrimSpace(line))

	created := mustSubmit(t, server.URL, "agent-sse", "")
	mustSubmit(t, server.URL, "agent-unrelated", "")

	var states []mrequest.State
	for len(states) < 2 {
		line, err = reader.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended early: %v (got %v)", err, states)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var change struct {
			RequestID string         `json:"request_id"`
			State     mrequest.State `json:"state"`
			AgentID   string         `json:"agent_id"`
		}
		assert.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &change))
		// the filter keeps unrelated agents out of this stream
		assert.Equal(t, "agent-sse", change.AgentID)
		assert.Equal(t, created.RequestID, change.RequestID)
		states = append(states, change.State)
	}
	assert.Equal(t, []mrequest.State{mrequest.StateRouting, mrequest.StatePendingResponse}, states)
}
