// Package notify delivers best-effort completion callbacks.
//
// WebhookNotifier subscribes to completion events and POSTs a JSON summary
// of each successful job to a configured URL. A Guard makes delivery
// at-most-once per job attempt, backed by Redis when configured and by
// process memory otherwise. Delivery failures are logged and never reach
// the job state machine.
package notify
