package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the closed set of failure categories every adapter maps its
// wire errors into.
type ErrorKind string

const (
	KindConfiguration      ErrorKind = "configuration"
	KindAuthentication     ErrorKind = "authentication"
	KindNotAuthenticated   ErrorKind = "not_authenticated"
	KindNetwork            ErrorKind = "network"
	KindValidation         ErrorKind = "validation"
	KindSymbolNotSupported ErrorKind = "symbol_not_supported"
	KindMarketClosed       ErrorKind = "market_closed"
	KindUnknownBroker      ErrorKind = "unknown_broker"
	KindBrokerUnavailable  ErrorKind = "broker_unavailable"
	KindRateLimited        ErrorKind = "rate_limited"
	KindRejected           ErrorKind = "rejected"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrConfiguration      = &Error{Kind: KindConfiguration}
	ErrAuthentication     = &Error{Kind: KindAuthentication}
	ErrNotAuthenticated   = &Error{Kind: KindNotAuthenticated}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrSymbolNotSupported = &Error{Kind: KindSymbolNotSupported}
	ErrMarketClosed       = &Error{Kind: KindMarketClosed}
	ErrUnknownBroker      = &Error{Kind: KindUnknownBroker}
	ErrBrokerUnavailable  = &Error{Kind: KindBrokerUnavailable}
	ErrRateLimited        = &Error{Kind: KindRateLimited}
	ErrRejected           = &Error{Kind: KindRejected}
)

// Error is the typed error returned across the Broker contract.
type Error struct {
	Kind    ErrorKind
	Broker  string // broker key, empty for registry-level errors
	Op      string // contract operation, e.g. "GetBalance"
	Code    string // backend error code, informational
	Message string
	Err     error
}

// NewError builds an *Error. err may be nil.
func NewError(kind ErrorKind, brokerKey, op, message string, err error) *Error {
	return &Error{Kind: kind, Broker: brokerKey, Op: op, Message: message, Err: err}
}

// WithCode returns a copy of e carrying the backend error code.
func (e *Error) WithCode(code string) *Error {
	cp := *e
	cp.Code = code
	return &cp
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Broker != "" {
		b.WriteString(e.Broker)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind, so errors.Is(err, ErrNetwork) holds for every network
// error regardless of broker or operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Broker == "" || t.Broker == e.Broker)
}

// KindOf extracts the kind of the outermost *Error in err's chain. It returns
// "" for errors that did not originate from an adapter.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsRetryable reports whether repeating the call may succeed without
// operator intervention.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited, KindMarketClosed:
		return true
	}
	return false
}

// isContextErr reports whether err was caused by the caller's context rather
// than the backend.
func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
