// Package metrics defines the observability hooks of the server core.
//
// Components receive a Recorder by injection and default to NoopRecorder, so
// no call site needs a nil check:
//
//	type Domain struct {
//	    recorder metrics.Recorder
//	}
//
// The daemon records into a PrometheusRecorder on its own registry; the
// monitoring server exposes that registry through HTTPHandler on /metrics.
package metrics
