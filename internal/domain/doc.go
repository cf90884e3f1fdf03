// Package domain contains the core entities of the analysis engine: the Job
// record and its lifecycle states, the processor kinds a job can be routed to,
// the subject Artifact a job analyses, and the priority heuristic applied at
// enqueue. It is independent of any specific store or transport.
package domain
