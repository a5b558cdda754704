// Package tileerrors defines the error kinds surfaced to callers of the
// tile grid, framed channel, and tile worker packages.
package tileerrors

import (
	"github.com/pkg/errors"
)

// Kind identifies which of the five error categories an error belongs to.
type Kind int

const (
	// Other is returned by Classify for an error this package did not wrap.
	Other Kind = iota
	MessageTooLarge
	Framing
	Contract
	Transport
	Canceled
)

func (k Kind) String() string {
	switch k {
	case MessageTooLarge:
		return "MessageTooLarge"
	case Framing:
		return "Framing"
	case Contract:
		return "Contract"
	case Transport:
		return "Transport"
	case Canceled:
		return "Canceled"
	default:
		return "Other"
	}
}

// Sentinel errors, one per kind. Wrap with Wrap/Wrapf to attach context and
// a stack trace; Classify recovers the Kind through any number of wraps.
var (
	ErrMessageTooLarge = errors.New("tileworld: message too large")
	ErrFraming         = errors.New("tileworld: framing error")
	ErrContract        = errors.New("tileworld: contract violation")
	ErrTransport       = errors.New("tileworld: transport failure")
	ErrCanceled        = errors.New("tileworld: canceled")
)

var sentinelKind = map[error]Kind{
	ErrMessageTooLarge: MessageTooLarge,
	ErrFraming:         Framing,
	ErrContract:        Contract,
	ErrTransport:       Transport,
	ErrCanceled:        Canceled,
}

// Wrap attaches msg as context to err and returns a new error preserving
// err's kind for later Classify calls.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Classify reports which of the five sentinel kinds err (or one of the
// errors it wraps) matches. Errors never produced by this package report
// Other.
func Classify(err error) Kind {
	for sentinel, kind := range sentinelKind {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return Other
}
