package call

import (
	"errors"
	"fmt"
)

var (
	ErrMediaAcquisition     = errors.New("media acquisition failed")
	ErrDescriptionCreation  = errors.New("session description failed")
	ErrUnexpectedOffer      = errors.New("unexpected offer")
	ErrUnexpectedAnswer     = errors.New("unexpected answer")
	ErrMalformedCandidate   = errors.New("malformed ICE candidate")
	ErrNoActiveVideoSender  = errors.New("no active video sender")
	ErrTrackReplacement     = errors.New("track replacement failed")
	ErrSessionAlreadyActive = errors.New("session already active")
	ErrSessionClosed        = errors.New("session closed")
	ErrConnectTimeout       = errors.New("connect timeout")
	ErrConnectionFailed     = errors.New("peer connection failed")
	ErrSignaling            = errors.New("signaling failed")
)

// Error carries the failing operation alongside one of the sentinel errors above.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}

// wrapCause joins a sentinel with the underlying library error so that both
// remain reachable through errors.Is.
func wrapCause(op string, sentinel, cause error) *Error {
	return &Error{Op: op, Err: errors.Join(sentinel, cause)}
}

// IsProtocolError reports whether err is a sequence or malformed-data error that
// the session absorbs instead of failing.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrUnexpectedOffer) ||
		errors.Is(err, ErrUnexpectedAnswer) ||
		errors.Is(err, ErrMalformedCandidate)
}
