// internal/apperr/apperr.go
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind groups errors by how callers should react to them.
type Kind string

const (
	KindInvalid      Kind = "invalid"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindUnavailable  Kind = "unavailable"
	KindUnauthorized Kind = "unauthorized"
	KindInternal     Kind = "internal"
)

// Reason is the machine-readable code clients switch on.
type Reason string

const (
	ReasonExpired             Reason = "expired"
	ReasonNotYetValid         Reason = "not_yet_valid"
	ReasonInactive            Reason = "inactive"
	ReasonUsageExceeded       Reason = "usage_exceeded"
	ReasonTargetingMismatch   Reason = "targeting_mismatch"
	ReasonBelowMinimum        Reason = "below_minimum"
	ReasonCouponNotFound      Reason = "coupon_not_found"
	ReasonNotFound            Reason = "not_found"
	ReasonEmptyCart           Reason = "empty_cart"
	ReasonItemNotInCart       Reason = "item_not_in_cart"
	ReasonAlreadyOwned        Reason = "already_owned"
	ReasonInvalidState        Reason = "invalid_state"
	ReasonProviderUnavailable Reason = "provider_unavailable"
	ReasonSessionInFlight     Reason = "session_in_flight"
	ReasonCartChanged         Reason = "cart_changed"
	ReasonInvalidSignature    Reason = "invalid_signature"
	ReasonInvalidRequest      Reason = "invalid_request"
	ReasonInternal            Reason = "internal_error"
)

type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns e with key set in its details.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, reason Reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func Wrap(err error, kind Kind, reason Reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

func Invalid(reason Reason, message string) *Error {
	return New(KindInvalid, reason, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, ReasonNotFound, message)
}

func Conflict(reason Reason, message string) *Error {
	return New(KindConflict, reason, message)
}

func Unavailable(err error, message string) *Error {
	return Wrap(err, KindUnavailable, ReasonProviderUnavailable, message)
}

func Internal(err error, message string) *Error {
	return Wrap(err, KindInternal, ReasonInternal, message)
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

func ReasonOf(err error) Reason {
	if e, ok := As(err); ok {
		return e.Reason
	}
	return ReasonInternal
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err onto the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalid:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusBadGateway
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
