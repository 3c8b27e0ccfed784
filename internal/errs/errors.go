// Package errs defines the error taxonomy shared by the pipeline stages.
//
// The classification drives acknowledgement decisions at the dispatcher
// boundary: transient errors requeue the delivery, malformed errors drop it,
// configuration errors abort process startup.
package errs

import (
	"errors"
	"fmt"
)

// TransientError marks a failure of an external dependency (broker, window
// store, database) that is expected to clear on its own. Deliveries that hit
// one are requeued, never dropped.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError for operation op.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// MalformedError marks a message body that can never be processed: invalid
// JSON, or a field whose value cannot be repaired. Redelivering it would loop
// forever, so the dispatcher drops it.
type MalformedError struct {
	Op  string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: malformed message: %v", e.Op, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Malformed wraps err as a MalformedError for operation op.
func Malformed(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MalformedError{Op: op, Err: err}
}

// ConfigurationError marks an unusable setting discovered at startup. It is
// fatal before the consumer loops start and never raised mid-stream.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %q: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Config wraps err as a ConfigurationError for the named setting.
func Config(key string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{Key: key, Err: err}
}

// IsTransient reports whether any error in err's chain is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsMalformed reports whether any error in err's chain is a MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
