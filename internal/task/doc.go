// Package task runs the analysis job engine: it accepts new jobs, claims
// queued work from the durable store, dispatches each claim to a processor
// through a bounded worker pool, applies the retry policy to failures and
// periodically sweeps the store for work abandoned by crashed workers.
//
// Every state change goes through a single conditional store update fenced
// on the claiming node and attempt number, so several processes can run the
// engine against the same store.
package task
