package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// State is a session's connection state.
type State int

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Session is the per-adapter connection state machine:
//
//	Disconnected -> Authenticating -> Connected | Failed
//
// A network error, or the backend revoking the login, observed while
// Connected moves the session to Failed. Only an explicit Authenticate leaves
// Failed. Caller cancellation and rate limiting never change state.
//
// Session also serializes order mutations for its adapter.
type Session struct {
	broker string
	logger *slog.Logger

	authMu  sync.Mutex // serializes Authenticate
	orderMu sync.Mutex // serializes CreateOrder/CancelOrder

	mu     sync.RWMutex
	state  State
	reason error
}

// NewSession returns a Disconnected session for brokerKey.
func NewSession(brokerKey string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{broker: brokerKey, logger: logger}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// IsConnected reports whether the state is Connected.
func (s *Session) IsConnected() bool {
	return s.State() == StateConnected
}

// Reason returns the error that last moved the session to Failed.
func (s *Session) Reason() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

func (s *Session) set(state State, reason error) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.reason = reason
	s.mu.Unlock()
	if prev != state {
		s.logger.Debug("session state changed", "from", prev.String(), "to", state.String())
	}
}

// Authenticate runs login unless the session is already Connected. A login
// aborted by ctx restores the previous state.
func (s *Session) Authenticate(ctx context.Context, login func(ctx context.Context) error) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	prev := s.State()
	if prev == StateConnected {
		return nil
	}
	prevReason := s.Reason()

	s.set(StateAuthenticating, nil)
	if err := login(ctx); err != nil {
		if isContextErr(err) && ctx.Err() != nil {
			s.set(prev, prevReason)
			return err
		}
		s.set(StateFailed, err)
		s.logger.Warn("authentication failed", "error", err)
		return err
	}
	s.set(StateConnected, nil)
	s.logger.Info("session connected")
	return nil
}

// Require returns a NotAuthenticated error unless the session is Connected.
func (s *Session) Require(op string) error {
	s.mu.RLock()
	state, reason := s.state, s.reason
	s.mu.RUnlock()

	switch state {
	case StateConnected:
		return nil
	case StateFailed:
		return NewError(KindNotAuthenticated, s.broker, op, "session lost; call Authenticate", reason)
	default:
		return NewError(KindNotAuthenticated, s.broker, op, "not authenticated", nil)
	}
}

// Observe inspects the result of a call made while Connected and moves the
// session to Failed on a network error or a rejected login. It returns err
// unchanged.
func (s *Session) Observe(err error) error {
	if err == nil || isContextErr(err) {
		return err
	}
	if !errors.Is(err, ErrNetwork) && !errors.Is(err, ErrAuthentication) && !errors.Is(err, ErrNotAuthenticated) {
		return err
	}
	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateFailed
		s.reason = err
		s.mu.Unlock()
		s.logger.Warn("session lost", "error", err)
		return err
	}
	s.mu.Unlock()
	return err
}

// Close returns the session to Disconnected.
func (s *Session) Close() {
	s.set(StateDisconnected, nil)
}

// Call runs fn if the session is Connected and feeds its error through
// Observe.
func Call[T any](s *Session, op string, fn func() (T, error)) (T, error) {
	if err := s.Require(op); err != nil {
		var zero T
		return zero, err
	}
	v, err := fn()
	return v, s.Observe(err)
}

// CallOrder is Call under the session's order mutex.
func CallOrder[T any](s *Session, op string, fn func() (T, error)) (T, error) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	return Call(s, op, fn)
}
