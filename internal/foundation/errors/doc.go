// Package errors provides the classified error primitives used across ghbackup.
//
// Every failure that crosses a package boundary is a ClassifiedError carrying a
// category, a severity and a retry strategy. The run orchestration relies on the
// category to tell per-entity failures (transient I/O, ancestry) apart from fatal
// ones (configuration, store conflict), and the CLI adapter maps categories to
// process exit codes.
//
// Example usage:
//
//	err := errors.TransientIOError("fetch failed").
//		WithCause(originalErr).
//		WithContext("repository", "acme/widgets").
//		Build()
package errors
