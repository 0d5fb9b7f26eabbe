// Package otel publishes goAccess engine counters through an OpenTelemetry
// meter. Counters map to Int64ObservableCounter instruments; each latency
// histogram maps to a bucket gauge labelled by "le" and a count gauge.
//
// The caller owns the MeterProvider.
package otel
