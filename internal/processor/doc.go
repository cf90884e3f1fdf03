// Package processor holds the interchangeable processing backends and the
// logic that chooses between them.
//
// An Adapter turns one claimed job plus its artifact into a Result. The
// Registry maps each ProcessorKind to its Adapter. The Selector is a pure
// decision table over the attempt number, the explicit-processor request and
// the HealthMonitor, a per-process circuit breaker that trips after repeated
// remote failures and resets itself after a cool-down.
package processor
