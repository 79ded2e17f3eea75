// Package prometheus exposes Manager metrics as a prometheus.Collector.
//
// Counters are named authclient_*_total; the backend latency histogram is
// authclient_backend_latency_seconds. [Handler] mounts a private registry so
// callers never share the global one by accident.
package prometheus
