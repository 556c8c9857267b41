// Package artifact implements the builder state machine that assembles a
// named, typed bundle of file entries into a finalized, content-addressed
// artifact manifest.
package artifact

import "fmt"

// ValidationError reports misuse of the builder API: adding a file after
// finalize, an empty path, a duplicate path, and similar caller errors.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("artifact: validation: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("artifact: validation: %s", e.Message)
}

// NotFoundError reports a referenced local path or object-store key that
// does not exist at add time or at load time.
type NotFoundError struct {
	Path  string
	Cause error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("artifact: not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Cause }

// DigestMismatchError reports a reference or downloaded file whose
// observed digest does not match the one recorded in the manifest.
type DigestMismatchError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("artifact: digest mismatch: %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// ObjectLimitExceededError reports a directory or prefix expansion that
// would add more objects than the configured maximum.
type ObjectLimitExceededError struct {
	Path      string
	Limit     int
	Attempted int
}

func (e *ObjectLimitExceededError) Error() string {
	return fmt.Sprintf("artifact: object limit exceeded: %s: attempted %d objects, limit is %d", e.Path, e.Attempted, e.Limit)
}

// TransportError reports a failure talking to a storage backend (S3, GCS,
// Azure, or the managed store's HTTP API) after retries are exhausted.
type TransportError struct {
	Path  string
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("artifact: transport: %s: %v", e.Path, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// ConfigurationError reports a missing or invalid scheme handler, policy
// setting, or credential.
type ConfigurationError struct {
	Message string
	Cause   error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("artifact: configuration: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("artifact: configuration: %s", e.Message)
}

func (e *ConfigurationError) Unwrap() error { return e.Cause }
