// Package workflow coordinates the conversion lifecycle: a Worker runs a
// single job attempt against a backend and publishes its events, and a
// Controller enforces the one-active-job rule with idempotent cleanup.
package workflow
