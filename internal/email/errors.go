package email

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAddress indicates a missing or unparsable sender, reply-to or envelope address.
	ErrInvalidAddress = errors.New("invalid email address")

	// ErrInvalidRecipient indicates the destination address is empty or malformed.
	ErrInvalidRecipient = errors.New("invalid recipient address")

	// ErrResourceResolution indicates an attachment could not be located or read.
	ErrResourceResolution = errors.New("failed to resolve resource")

	// ErrTransport indicates a connect, authentication, protocol or I/O failure during delivery.
	ErrTransport = errors.New("failed to deliver email")
)

// AddressError reports which address field failed validation.
type AddressError struct {
	Field string
	Value string
	Err   error
}

func (e *AddressError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("please provide a valid %s address", e.Field)
	}
	return fmt.Sprintf("invalid %s address %q: %v", e.Field, e.Value, e.Err)
}

func (e *AddressError) Unwrap() []error {
	return joinCause(ErrInvalidAddress, e.Err)
}

// ResourceError describes why a single attachment was skipped.
type ResourceError struct {
	Name string
	Err  error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("failed to attach %q: %v", e.Name, e.Err)
}

func (e *ResourceError) Unwrap() []error {
	return joinCause(ErrResourceResolution, e.Err)
}

// TransportError is the single failure type of a delivery attempt.
// The wrapped cause is available through errors.As / errors.Unwrap.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("failed to deliver email: %v", e.Err)
}

func (e *TransportError) Unwrap() []error {
	return joinCause(ErrTransport, e.Err)
}

// SendError is the terminal failure of a whole send call.
type SendError struct {
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("failed to send email: %v", e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func joinCause(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}
