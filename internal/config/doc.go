// Package config handles configuration loading, parsing, and validation
// from environment variables and an optional config file. It provides
// type-safe access to the engine's tunables (concurrency, backoff, sweep
// windows, adapter endpoints) while keeping those details out of the
// processing code.
package config
