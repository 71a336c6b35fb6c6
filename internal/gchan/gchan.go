// Package gchan contains helpers for the request/response channel pattern
// used to talk to single-goroutine kernels.
package gchan

import (
	"context"
	"log/slog"
)

// SendC sends val on ch, returning false if ctx is cancelled first.
// The log and description identify the call site when shutting down.
func SendC[T any](ctx context.Context, log *slog.Logger, ch chan<- T, val T, desc string) bool {
	select {
	case <-ctx.Done():
		log.Debug("Context cancelled while sending", "desc", desc, "cause", context.Cause(ctx))
		return false
	case ch <- val:
		return true
	}
}

// RecvC receives from ch, returning false if ctx is cancelled first.
func RecvC[T any](ctx context.Context, log *slog.Logger, ch <-chan T, desc string) (T, bool) {
	select {
	case <-ctx.Done():
		log.Debug("Context cancelled while receiving", "desc", desc, "cause", context.Cause(ctx))
		var zero T
		return zero, false
	case v := <-ch:
		return v, true
	}
}

// ReqResp sends req on reqCh and then waits for a value on respCh.
// respCh should be 1-buffered so the responder never blocks.
func ReqResp[Req, Resp any](
	ctx context.Context, log *slog.Logger,
	reqCh chan<- Req, req Req,
	respCh <-chan Resp,
	desc string,
) (Resp, bool) {
	if !SendC(ctx, log, reqCh, req, desc+": sending request") {
		var zero Resp
		return zero, false
	}

	return RecvC(ctx, log, respCh, desc+": receiving response")
}
