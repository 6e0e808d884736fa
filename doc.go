// Package hitl provides a coordination engine for asynchronous
// human-in-the-loop decisions requested by automated agents.
//
// An agent submits a request needing approval, clarification or input; a
// human responds, or a timeout policy decides automatically; the agent
// observes the outcome. The engine is built from pluggable service layers:
//
//   - engine    – validated, atomically applied state transitions
//   - router    – drives submitted requests to an awaiting-response state
//   - scheduler – applies timeout fallbacks and escalations
//   - audit     – append-only record of every lifecycle event
//   - fanout    – best-effort push of state changes to live subscribers
//
// hitl is designed to be embedded in host applications. End-users typically
// interact with the engine via the high-level Service façade exposed by the
// root package:
//
//	srv := hitl.New()
//	cr, _ := srv.Submit(ctx, &hitl.SubmitRequest{...})
//	go srv.Start(ctx)
//	cr, _ = srv.Get(ctx, cr.RequestID, "agent-1")
//
// For more details see the individual sub-packages.
package hitl
