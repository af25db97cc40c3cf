package ports

import (
	"errors"
	"fmt"
	"strings"
)

// Standard application-level errors.
// Adapters return *Error values; errors.Is matches them against these sentinels by kind.
var (
	ErrValidation    = errors.New("invalid request parameters")
	ErrTransport     = errors.New("exchange transport failure")
	ErrAuth          = errors.New("exchange authentication failed")
	ErrExchange      = errors.New("exchange rejected the request")
	ErrConfiguration = errors.New("invalid or missing configuration")

	// Repository errors
	ErrNotFound       = errors.New("resource not found")
	ErrDuplicateEntry = errors.New("record already exists")
)

// ErrorKind classifies failures surfaced by the gateway and the core.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindTransport
	KindAuth
	KindExchange
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindTransport:
		return "TransportError"
	case KindAuth:
		return "AuthError"
	case KindExchange:
		return "ExchangeError"
	case KindConfiguration:
		return "ConfigurationError"
	default:
		return "UnknownError"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindTransport:
		return ErrTransport
	case KindAuth:
		return ErrAuth
	case KindExchange:
		return ErrExchange
	case KindConfiguration:
		return ErrConfiguration
	default:
		return nil
	}
}

// Error is the typed error returned by the gateway and the trading core.
// Messages carries the exchange-reported strings verbatim.
type Error struct {
	Kind     ErrorKind
	Op       string
	Code     string
	Messages []string
	Err      error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	if e.Op != "" {
		sb.WriteString(" in ")
		sb.WriteString(e.Op)
	}
	if e.Code != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Code)
		sb.WriteString("]")
	}
	if len(e.Messages) > 0 {
		sb.WriteString(": ")
		sb.WriteString(e.Message())
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Message joins the exchange messages.
func (e *Error) Message() string {
	return strings.Join(e.Messages, "; ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the sentinel of its kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && s == target
}

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(op, format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Op: op, Messages: []string{fmt.Sprintf(format, args...)}}
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// NewTransportError wraps a network or timeout failure.
func NewTransportError(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// NewExchangeError builds a business rejection carrying the exchange messages.
func NewExchangeError(op, code string, messages ...string) *Error {
	return &Error{Kind: KindExchange, Op: op, Code: code, Messages: messages}
}

// NewAuthError builds an authentication failure carrying the exchange messages.
func NewAuthError(op, code string, messages ...string) *Error {
	return &Error{Kind: KindAuth, Op: op, Code: code, Messages: messages}
}

// KindOf returns the classification of err, KindUnknown when it carries none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the failure is transient.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransport
}

// IsFatal reports whether the failure must stop the owner instead of being retried.
func IsFatal(err error) bool {
	k := KindOf(err)
	return k == KindAuth || k == KindConfiguration
}
