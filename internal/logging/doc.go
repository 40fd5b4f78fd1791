// Package logging builds the slog loggers used across Bindery and holds
// the shared attribute vocabulary for structured output.
//
// Console output renders a compact single-line format; JSON output is
// suitable for ingestion. The ProgressSampler suppresses repetitive
// progress log lines without losing stage transitions.
package logging
