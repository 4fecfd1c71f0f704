package moutai

import "fmt"

// RemoteBusinessError is a non-success status from the remote service.
// The message is passed through verbatim for the caller/UI.
type RemoteBusinessError struct {
	Code    int
	Message string
}

func (e *RemoteBusinessError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote rejected request: %s (code=%d)", e.Message, e.Code)
	}
	return fmt.Sprintf("remote rejected request (code=%d)", e.Code)
}

// AuthError is an invalid or expired credential/verification code.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return "authentication failed: " + e.Message
	}
	return "authentication failed"
}

// SessionExpiredError marks a stale catalog session id. Callers refresh
// the session and retry once, never more.
type SessionExpiredError struct {
	SessionID string
}

func (e *SessionExpiredError) Error() string {
	return fmt.Sprintf("catalog session %s expired", e.SessionID)
}

// NetworkError is a transport-level failure; retryable with bounded
// backoff.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
