// Package telemetry wires OpenTelemetry tracing and metrics for formextract.
//
// New builds tracer and meter providers that export over OTLP, either gRPC
// (default) or HTTP/protobuf. A disabled or degraded instance hands out the
// global no-op providers, so instrumented code never needs nil checks.
// NewTestTelemetry records spans and metrics in memory for tests.
package telemetry
