// Package conversion defines the value types that describe a single
// PDF-to-module conversion: the immutable job configuration, the result
// produced by a backend, and job identifier derivation.
package conversion
