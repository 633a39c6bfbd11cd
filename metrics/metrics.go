// Package metrics provides a small instrumentation surface with a no-op
// default and a Prometheus-backed implementation.
package metrics

import "time"

// Recorder is the metrics surface used across the module.
type Recorder interface {
	IncStoreOp(op string, success bool)
	ObserveStoreOpSeconds(op string, success bool, seconds float64)
	IncCall(call string, success bool)
	ObserveCallSeconds(call string, success bool, seconds float64)
	IncTier(tier string)
}

type noopRecorder struct{}

func (noopRecorder) IncStoreOp(string, bool)                     {}
func (noopRecorder) ObserveStoreOpSeconds(string, bool, float64) {}
func (noopRecorder) IncCall(string, bool)                        {}
func (noopRecorder) ObserveCallSeconds(string, bool, float64)    {}
func (noopRecorder) IncTier(string)                              {}

// Noop returns a Recorder that discards everything.
func Noop() Recorder { return noopRecorder{} }

// OrNoop returns r, or the no-op recorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return noopRecorder{}
	}
	return r
}

// TimeStoreOp times a persistence operation. Call the returned func with
// the outcome when the operation finishes.
func TimeStoreOp(r Recorder, op string) func(success bool) {
	r = OrNoop(r)
	start := time.Now()
	return func(success bool) {
		r.IncStoreOp(op, success)
		r.ObserveStoreOpSeconds(op, success, time.Since(start).Seconds())
	}
}

// TimeCall times an entry-point or external call.
func TimeCall(r Recorder, call string) func(success bool) {
	r = OrNoop(r)
	start := time.Now()
	return func(success bool) {
		r.IncCall(call, success)
		r.ObserveCallSeconds(call, success, time.Since(start).Seconds())
	}
}
