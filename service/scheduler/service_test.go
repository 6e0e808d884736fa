package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/viant/hitl/internal/clock"
	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/audit"
	auditmem "github.com/viant/hitl/service/audit/memory"
	reqmem "github.com/viant/hitl/service/dao/request/memory"
	"github.com/viant/hitl/service/engine"
	"github.com/viant/hitl/service/fanout"
	"github.com/viant/hitl/service/scheduler"
)

type fixture struct {
	requests  *reqmem.Service
	auditLog  *auditmem.Service
	scheduler *scheduler.Service
}

func newFixture() *fixture {
	requests := reqmem.New()
	auditLog := auditmem.New()
	transitionEngine := engine.New(requests, auditLog, fanout.New(zerolog.Nop()), zerolog.Nop())
	return &fixture{
		requests:  requests,
		auditLog:  auditLog,
		scheduler: scheduler.New(requests, transitionEngine, scheduler.DefaultConfig(), zerolog.Nop()),
	}
}

func (f *fixture) seed(t *testing.T, id string, policy mrequest.TimeoutPolicy, timeoutAt time.Time) {
	now := timeoutAt.Add(-time.Duration(policy.TimeoutSeconds) * time.Second)
	aRequest := &mrequest.Request{
		RequestID:     id,
		AgentID:       "agent-1",
		Intent:        mrequest.IntentApproval,
		Urgency:       mrequest.UrgencyHigh,
		State:         mrequest.StatePendingResponse,
		ResponderID:   "alice",
		TimeoutPolicy: policy,
		SubmittedAt:   now,
		UpdatedAt:     now,
		TimeoutAt:     timeoutAt,
	}
	assert.NoError(t, f.requests.Save(context.Background(), aRequest))
}

func (f *fixture) load(t *testing.T, id string) *mrequest.Request {
	aRequest, err := f.requests.Load(context.Background(), id)
	assert.NoError(t, err)
	return aRequest
}

func (f *fixture) auditTypes(t *testing.T, requestID string) []string {
	events, err := f.auditLog.List(context.Background(), audit.Query{RequestID: requestID})
	assert.NoError(t, err)
	var types []string
	for _, event := range events {
		types = append(types, event.EventType)
	}
	return types
}

func frozen(at time.Time) func() {
	clock.NowFunc = func() time.Time { return at }
	return func() { clock.NowFunc = time.Now }
}

func TestTickAutoApprovesExpiredRequest(t *testing.T) {
	f := newFixture()
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	defer frozen(deadline.Add(time.Second))()

	f.seed(t, "r1", mrequest.TimeoutPolicy{TimeoutSeconds: 1, Fallback: mrequest.FallbackAutoApprove}, deadline)
	assert.NoError(t, f.scheduler.Tick(context.Background()))

	aRequest := f.load(t, "r1")
	assert.Equal(t, mrequest.StateResponded, aRequest.State)
	assert.EqualValues(t, map[string]interface{}{"decision": "approved", "auto": true}, aRequest.ResponseData)
	assert.Equal(t, "system:auto_approve", aRequest.RespondedBy)
	assert.NotNil(t, aRequest.RespondedAt)
	assert.EqualValues(t, []string{"CR_RESPONDED"}, f.auditTypes(t, "r1"))
}

func TestTickAutoRejectsExpiredRequest(t *testing.T) {
	f := newFixture()
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	defer frozen(deadline)()

	f.seed(t, "r1", mrequest.TimeoutPolicy{TimeoutSeconds: 1, Fallback: mrequest.FallbackAutoReject}, deadline)
	assert.NoError(t, f.scheduler.Tick(context.Background()))

	aRequest := f.load(t, "r1")
	assert.Equal(t, mrequest.StateResponded, aRequest.State)
	assert.EqualValues(t, map[string]interface{}{"decision": "rejected", "auto": true}, aRequest.ResponseData)
	assert.Equal(t, "system:auto_reject", aRequest.RespondedBy)
}

func TestTickEscalationWithoutTargetTimesOut(t *testing.T) {
	f := newFixture()
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	defer frozen(deadline)()

	f.seed(t, "r1", mrequest.TimeoutPolicy{TimeoutSeconds: 30, Fallback: mrequest.FallbackEscalate}, deadline)
	assert.NoError(t, f.scheduler.Tick(context.Background()))

	aRequest := f.load(t, "r1")
	assert.Equal(t, mrequest.StateTimedOut, aRequest.State)

	events, err := f.auditLog.List(context.Background(), audit.Query{RequestID: "r1"})
	assert.NoError(t, err)
	if assert.Len(t, events, 1) {
		assert.Equal(t, "CR_TIMED_OUT", events[0].EventType)
		assert.Equal(t, "no_escalation_target", events[0].Payload["reason"])
	}
}

func TestTickEscalationWithTargetReroutesUnderNewResponder(t *testing.T) {
	f := newFixture()
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	defer frozen(deadline)()

	f.seed(t, "r1", mrequest.TimeoutPolicy{
		TimeoutSeconds:        30,
		Fallback:              mrequest.FallbackEscalate,
		EscalationResponderID: "lead-2",
	}, deadline)
	assert.NoError(t, f.scheduler.Tick(context.Background()))

	aRequest := f.load(t, "r1")
	assert.Equal(t, mrequest.StatePendingResponse, aRequest.State)
	assert.Equal(t, "lead-2", aRequest.ResponderID)
	assert.Equal(t, deadline.Add(30*time.Second), aRequest.TimeoutAt)
	assert.EqualValues(t, []string{"CR_ESCALATED", "CR_ROUTING", "CR_PENDING_RESPONSE"}, f.auditTypes(t, "r1"))
}

func TestTickTerminatesBlockFailAndSkip(t *testing.T) {
	f := newFixture()
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	defer frozen(deadline)()

	fallbacks := []mrequest.Fallback{mrequest.FallbackBlock, mrequest.FallbackFail, mrequest.FallbackSkip}
	for i, fallback := range fallbacks {
		id := string(rune('a' + i))
		f.seed(t, id, mrequest.TimeoutPolicy{TimeoutSeconds: 5, Fallback: fallback}, deadline)
	}
	assert.NoError(t, f.scheduler.Tick(context.Background()))

	for i, fallback := range fallbacks {
		id := string(rune('a' + i))
		aRequest := f.load(t, id)
		assert.Equal(t, mrequest.StateTimedOut, aRequest.State, "%v", fallback)
		// The chosen fallback survives on the record for downstream consumers.
		assert.Equal(t, fallback, aRequest.TimeoutPolicy.Fallback)

		events, err := f.auditLog.List(context.Background(), audit.Query{RequestID: id})
		assert.NoError(t, err)
		if assert.Len(t, events, 1) {
			assert.Equal(t, string(fallback), events[0].Payload["fallback"])
		}
	}
}

func TestTickSkipsUnexpiredRequests(t *testing.T) {
	f := newFixture()
	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	defer frozen(deadline)()

	f.seed(t, "expired", mrequest.TimeoutPolicy{TimeoutSeconds: 1, Fallback: mrequest.FallbackAutoApprove}, deadline)
	f.seed(t, "future", mrequest.TimeoutPolicy{TimeoutSeconds: 1, Fallback: mrequest.FallbackAutoApprove}, deadline.Add(time.Hour))

	assert.NoError(t, f.scheduler.Tick(context.Background()))

	assert.Equal(t, mrequest.StateResponded, f.load(t, "expired").State)
	assert.Equal(t, mrequest.StatePendingResponse, f.load(t, "future").State)
}

// failingLoads wraps the request DAO and rejects engine loads for selected
// ids so a per-request failure can be injected mid tick.
type failingLoads struct {
	*reqmem.Service
	rejected map[string]bool
}

func (s *failingLoads) Load(ctx context.Context, id string) (*mrequest.Request, error) {
	if s.rejected[id] {
		return nil, errors.New("storage unavailable")
	}
	return s.Service.Load(ctx, id)
}

func TestTickIsolatesPerRequestFailures(t *testing.T) {
	requests := reqmem.New()
	auditLog := auditmem.New()
	flaky := &failingLoads{Service: requests, rejected: map[string]bool{"bad": true}}
	transitionEngine := engine.New(flaky, auditLog, fanout.New(zerolog.Nop()), zerolog.Nop())
	svc := scheduler.New(flaky, transitionEngine, scheduler.DefaultConfig(), zerolog.Nop())
	f := &fixture{requests: requests, auditLog: auditLog, scheduler: svc}

	deadline := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	defer frozen(deadline)()

	f.seed(t, "bad", mrequest.TimeoutPolicy{TimeoutSeconds: 1, Fallback: mrequest.FallbackAutoApprove}, deadline)
	f.seed(t, "good", mrequest.TimeoutPolicy{TimeoutSeconds: 1, Fallback: mrequest.FallbackAutoReject}, deadline)

	assert.NoError(t, f.scheduler.Tick(context.Background()))

	assert.Equal(t, mrequest.StatePendingResponse, f.load(t, "bad").State)
	assert.Equal(t, mrequest.StateResponded, f.load(t, "good").State)
}

// blockingScans wraps the request DAO and parks ListExpired until released so
// a scan can be held in flight across Tick calls.
type blockingScans struct {
	*reqmem.Service
	entered chan struct{}
	release chan struct{}
	scans   int32
}

func (s *blockingScans) ListExpired(ctx context.Context, now time.Time) ([]*mrequest.Request, error) {
	atomic.AddInt32(&s.scans, 1)
	s.entered <- struct{}{}
	<-s.release
	return s.Service.ListExpired(ctx, now)
}

func TestTickKeepsSingleScanInFlight(t *testing.T) {
	requests := reqmem.New()
	auditLog := auditmem.New()
	blocking := &blockingScans{
		Service: requests,
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	transitionEngine := engine.New(requests, auditLog, fanout.New(zerolog.Nop()), zerolog.Nop())
	svc := scheduler.New(blocking, transitionEngine, scheduler.DefaultConfig(), zerolog.Nop())

	first := make(chan error, 1)
	go func() { first <- svc.Tick(context.Background()) }()
	<-blocking.entered

	// with the first scan parked mid flight, further ticks return without scanning
	assert.NoError(t, svc.Tick(context.Background()))
	assert.NoError(t, svc.Tick(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&blocking.scans))

	close(blocking.release)
	assert.NoError(t, <-first)

	// once the scan completes the next tick scans again
	assert.NoError(t, svc.Tick(context.Background()))
	assert.Equal(t, int32(2), atomic.LoadInt32(&blocking.scans))
}
