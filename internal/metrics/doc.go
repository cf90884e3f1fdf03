// Package metrics exposes Prometheus collectors for the analysis engine.
package metrics
