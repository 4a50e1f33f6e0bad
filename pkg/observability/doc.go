/*
Package observability provides the per-run instrumentation context and Prometheus metrics.

An Instrumentation is created at run start and wraps every classifier the run uses,
so call and token counts are accounted in one place. Metrics exposes the same
signals, plus exploration lifecycle events, to a Prometheus registry.
*/
package observability
