// Package events provides the in-process completion event bus.
//
// The engine emits a CompletionEvent once a job reaches a terminal state.
// Handlers (the webhook notifier, metrics) subscribe without the engine
// knowing about them, so side effects stay outside the job state machine.
//
// The primary components are:
// - CompletionEvent: the terminal outcome of one job attempt
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
