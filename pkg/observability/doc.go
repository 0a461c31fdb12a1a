// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).WithError(err).Error("authorization load failed")
//
// The level is shared by every logger derived from the root and can be
// changed at runtime with SetLevel.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision(false, "PERMISSION_DENIED", elapsed)
//
// A nil *Metrics is valid everywhere and records nothing.
//
// # OpenTelemetry
//
// InitOTel installs OTLP gRPC trace and metric exporters as global providers.
// Tracer returns the module tracer used by the gate and resolver.
package observability
