// ABOUTME: Error values shared by every sync adapter
// ABOUTME: Sentinels are matched with errors.Is and typed errors with errors.As

package reconcile

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSuspended is returned while the transport is suspended.
	ErrSuspended = errors.New("sync suspended")
	// ErrNotFound is returned when the service does not know the requested item.
	ErrNotFound = errors.New("not found")
	// ErrAlreadySubscribed is returned when a feed is already in the account.
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrInvalidParameter is returned for arguments the service cannot accept.
	ErrInvalidParameter = errors.New("invalid parameter")
	// ErrUnauthorized is returned when credentials are missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnsupported is returned for operations an account type cannot perform.
	ErrUnsupported = errors.New("unsupported by this account type")
)

// StatusError is an unexpected HTTP status from a service.
type StatusError struct {
	Code   int
	Method string
	URL    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

// IsAuth reports whether the status means the credentials were rejected.
func (e *StatusError) IsAuth() bool {
	return e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden
}

// Is lets errors.Is(err, ErrUnauthorized) and errors.Is(err, ErrNotFound) match status errors.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.IsAuth()
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// RejectedError lists ids in a pushed chunk that the service cannot accept.
// The rest of the chunk was delivered.
type RejectedError struct {
	IDs []string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%d ids rejected: %v", len(e.IDs), e.IDs)
}

func (e *RejectedError) Unwrap() error { return ErrInvalidParameter }

// ProtocolError reports a response that is missing or mangles a required field.
type ProtocolError struct {
	Field string
	Err   error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unexpected response for %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("unexpected response: missing %s", e.Field)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// AccountError ties a remote failure to the account it happened in.
type AccountError struct {
	AccountID string
	Name      string
	Err       error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("account %s (%s): %v", e.Name, e.AccountID, e.Err)
}

func (e *AccountError) Unwrap() error { return e.Err }

// WrapAccount wraps err in an AccountError unless it is nil or already wrapped.
func WrapAccount(accountID, name string, err error) error {
	if err == nil {
		return nil
	}
	var ae *AccountError
	if errors.As(err, &ae) {
		return err
	}
	return &AccountError{AccountID: accountID, Name: name, Err: err}
}
