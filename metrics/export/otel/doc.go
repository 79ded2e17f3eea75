// Package otel publishes Manager counters and the backend latency histogram
// through an OpenTelemetry Meter supplied by the caller.
//
// Each counter becomes an Int64ObservableCounter and each histogram bucket an
// Int64ObservableGauge; one callback reads [authclient.Manager.MetricsSnapshot]
// per collection cycle.
package otel
