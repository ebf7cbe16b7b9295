// Package rpc implements the §4.5/§6 request dispatcher: request
// validation (exactly one request variant, unknown methods rejected)
// and routing to per-method handlers, grounded on the original's
// TRequest dispatch table (rpc.cpp) but expressed as a Go method
// registry rather than a switch over a protobuf oneof, since this
// module's wire contract (one Request with exactly one populated
// field) is represented directly as a Go struct instead of generated
// protobuf code.
package rpc

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/portod/pkg/metrics"
	"github.com/cuemby/portod/pkg/portoerr"
)

// Request is the parsed, still-untyped envelope the session layer
// hands to the dispatcher: Method names the one request variant (the
// wire oneof of §6) and must be set; Params holds that method's
// arguments.
type Request struct {
	Method string
	Params map[string]string
}

// Response is what a Handler returns; Error is nil on success.
type Response struct {
	Result map[string]string
	Error  *portoerr.Error
}

// Handler processes one validated request for a given client.
type Handler func(clientContainer string, req Request) Response

// Dispatcher routes requests to registered handlers and tracks
// long-running request counters at the thresholds §4.3 names (1s, 3s,
// 30s, 5m), readable through LongRequestCounts.
type Dispatcher struct {
	handlers map[string]Handler

	over1s, over3s, over30s, over5m atomic.Int64
}

// New builds an empty dispatcher; register methods with Handle before
// routing any request.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Handle registers the handler for a method name.
func (d *Dispatcher) Handle(method string, h Handler) {
	d.handlers[method] = h
}

// Dispatch validates req and, if valid, invokes its handler, recording
// how long the call took against the long-request thresholds.
func (d *Dispatcher) Dispatch(clientContainer string, req Request) Response {
	if err := validate(req); err != nil {
		return Response{Error: err}
	}
	h, ok := d.handlers[req.Method]
	if !ok {
		err := portoerr.New(portoerr.InvalidMethod, "unknown method %q", req.Method)
		metrics.RPCRequestsTotal.WithLabelValues(req.Method, "error").Inc()
		return Response{Error: err}
	}

	start := time.Now()
	resp := h(clientContainer, req)
	elapsed := time.Since(start)
	d.recordDuration(elapsed)

	metrics.RPCRequestDuration.WithLabelValues(req.Method).Observe(elapsed.Seconds())
	outcome := "ok"
	if resp.Error != nil {
		outcome = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(req.Method, outcome).Inc()
	return resp
}

// validate enforces §6's "exactly one oneof field" wire rule at the
// Go-struct level: a method name must be set, full stop.
func validate(req Request) *portoerr.Error {
	if req.Method == "" {
		return portoerr.New(portoerr.InvalidMethod, "request has no method set")
	}
	return nil
}

func (d *Dispatcher) recordDuration(elapsed time.Duration) {
	switch {
	case elapsed >= 5*time.Minute:
		d.over5m.Add(1)
	case elapsed >= 30*time.Second:
		d.over30s.Add(1)
	case elapsed >= 3*time.Second:
		d.over3s.Add(1)
	case elapsed >= time.Second:
		d.over1s.Add(1)
	}
}

// LongRequestCounts returns a snapshot of the long-request counters
// since the dispatcher was created. Each request is counted once, under
// the highest threshold it reached (a 10s request counts in over3s
// only). The metrics collector does not read these counters.
func (d *Dispatcher) LongRequestCounts() (over1s, over3s, over30s, over5m int64) {
	return d.over1s.Load(), d.over3s.Load(), d.over30s.Load(), d.over5m.Load()
}
