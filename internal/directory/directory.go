// Package directory looks up the destination address of a user handle.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnknownUser is returned when the handle matches no user.
	ErrUnknownUser = errors.New("unknown user")

	// ErrNoEmail is returned when the user exists but has no address on file.
	ErrNoEmail = errors.New("user has no email address")
)

// Lookup supplies the destination address of a user. Implementations only
// guarantee a non-empty result; syntax is validated by the caller.
type Lookup interface {
	EmailOf(ctx context.Context, handle string) (string, error)
}

// Static is an in-memory Lookup keyed by handle.
type Static map[string]string

// EmailOf returns the address stored for handle.
func (s Static) EmailOf(_ context.Context, handle string) (string, error) {
	addr, ok := s[handle]
	if !ok {
		return "", fmt.Errorf("%q: %w", handle, ErrUnknownUser)
	}
	return nonEmpty(handle, addr)
}

// Passthrough treats the handle itself as the address.
type Passthrough struct{}

// EmailOf returns handle.
func (Passthrough) EmailOf(_ context.Context, handle string) (string, error) {
	return nonEmpty(handle, handle)
}

// Chain tries each Lookup in order and returns the first address found.
// Only ErrUnknownUser moves on to the next lookup.
type Chain []Lookup

// EmailOf returns the first address found.
func (c Chain) EmailOf(ctx context.Context, handle string) (string, error) {
	for _, l := range c {
		addr, err := l.EmailOf(ctx, handle)
		if errors.Is(err, ErrUnknownUser) {
			continue
		}
		return addr, err
	}
	return "", fmt.Errorf("%q: %w", handle, ErrUnknownUser)
}

func nonEmpty(handle, addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("%q: %w", handle, ErrNoEmail)
	}
	return addr, nil
}

// isUUID reports whether handle looks like a user id rather than a username.
func isUUID(handle string) bool {
	_, err := uuid.Parse(handle)
	return err == nil
}
