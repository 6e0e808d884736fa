// Package tracing wraps OpenTelemetry span creation for the coordination
// engine. Transitions, routing and scheduler ticks open spans through
// StartSpan/EndSpan; hosts that want traces call Init once with an output
// destination, everything else is a no-op.
package tracing
