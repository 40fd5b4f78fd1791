// Package errs defines the error taxonomy shared by the conversion
// pipeline: kinds, codes, severities, and retriability flags consumed by
// the recovery manager and the notification surface.
package errs
