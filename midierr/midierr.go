// Package midierr defines the error kinds shared across the dataplane
// (spec §7). Callers test an error's kind with midierr.Is (or
// errors.As to *Error) instead of matching strings.
package midierr

import (
	"errors"
	"fmt"
)

// Kind identifies a category of error without carrying per-call detail.
type Kind int

const (
	// KindUnknown is the zero value; never returned deliberately.
	KindUnknown Kind = iota
	KindTruncated
	KindBadMagic
	KindUnsupportedFormat
	KindUnknownMetaEvent
	KindChannelOutOfRange
	KindMalformedPayload
	KindIncompleteFrame
	KindTransportClosed
	KindPacketLoss
	KindBackpressureDropped
	KindDrainTimeout
	KindLatePacket
	KindNotFound
	KindInvalidState
)

func (k Kind) String() string {
	switch k {
	case KindTruncated:
		return "truncated"
	case KindBadMagic:
		return "bad_magic"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindUnknownMetaEvent:
		return "unknown_meta_event"
	case KindChannelOutOfRange:
		return "channel_out_of_range"
	case KindMalformedPayload:
		return "malformed_payload"
	case KindIncompleteFrame:
		return "incomplete_frame"
	case KindTransportClosed:
		return "transport_closed"
	case KindPacketLoss:
		return "packet_loss"
	case KindBackpressureDropped:
		return "backpressure_dropped"
	case KindDrainTimeout:
		return "drain_timeout"
	case KindLatePacket:
		return "late_packet"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with the operation that produced it and, where
// applicable, an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a kindSentinel target of the same Kind, which is what
// midierr.Is(err, kind) passes to errors.Is, so callers never
// construct an *Error to compare against.
func (e *Error) Is(target error) bool {
	var k kindSentinel
	if errors.As(target, &k) {
		return e.Kind == Kind(k)
	}
	return false
}

// kindSentinel lets a Kind satisfy error so it can be used as an
// errors.Is target; Kind itself is not an error, so callers go through
// Is below: midierr.Is(err, midierr.KindNotFound).
type kindSentinel Kind

func (k kindSentinel) Error() string { return Kind(k).String() }

// New builds an *Error for op/kind with no wrapped cause.
func New(op string, kind Kind) error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an *Error for op/kind wrapping err.
func Wrap(op string, kind Kind, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound builds a KindNotFound error naming the entity and ID sought.
func NotFound(op, entity, id string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("%s %q", entity, id)}
}

// InvalidState builds a KindInvalidState error naming the attempted
// operation and the state it was attempted from.
func InvalidState(op, state string) error {
	return &Error{Kind: KindInvalidState, Op: op, Err: fmt.Errorf("from state %s", state)}
}

// PacketLoss builds a KindPacketLoss error carrying the lost-packet count.
func PacketLoss(op string, count int) error {
	return &Error{Kind: KindPacketLoss, Op: op, Err: fmt.Errorf("%d packets", count)}
}

func Is(err error, kind Kind) bool {
	return errors.Is(err, kindSentinel(kind))
}
