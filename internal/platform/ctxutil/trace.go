// Package ctxutil threads a handful of request-scoped identifiers (trace id,
// request id) through context.Context so logging and outbound adapter calls
// can tag themselves without every function signature growing parameters.
package ctxutil

import "context"

type traceKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	if td == nil {
		return ctx
	}
	return context.WithValue(ctx, traceKey{}, td)
}

func TraceDataFrom(ctx context.Context) *TraceData {
	td, _ := ctx.Value(traceKey{}).(*TraceData)
	if td == nil {
		return &TraceData{}
	}
	return td
}
