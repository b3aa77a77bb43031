package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the conditions that abort a call outright. Violations
// never surface as errors; these do.
var (
	// ErrNoMatchingRule: the dispatcher found no matching rule and has no
	// default contract configured.
	ErrNoMatchingRule = errors.New("no matching rule")
	// ErrUnknownContract: a contract name is not present in the store.
	ErrUnknownContract = errors.New("unknown contract")
	// ErrUnknownPipeline: a pipeline name is not registered.
	ErrUnknownPipeline = errors.New("unknown pipeline")
	// ErrTimeout: the call's deadline expired mid-execution. No cache entry
	// is written for a timed-out call.
	ErrTimeout = errors.New("execution deadline exceeded")
	// ErrSchemaInvalid: a schema failed structural validation at registration.
	ErrSchemaInvalid = errors.New("invalid schema")
)

// ConfigError wraps a configuration-class failure (unknown names, invalid
// definitions) with the offending identifier. These are surfaced immediately
// and never retried.
type ConfigError struct {
	Err  error
	Name string
}

func (e *ConfigError) Error() string {
	if e.Name == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %q", e.Err.Error(), e.Name)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError builds a ConfigError around one of the sentinel errors.
func NewConfigError(err error, name string) *ConfigError {
	return &ConfigError{Err: err, Name: name}
}
