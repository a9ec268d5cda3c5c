// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

import "errors"

// ErrorKind classifies an error returned from this package so callers can
// branch on recovery strategy without string matching, per the error
// handling design: some kinds are locally recoverable, some must be
// surfaced to the caller, none are allowed to panic.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidPacket
	KindInvalidState
	KindNoBufferSpace
	KindCryptError
	KindSocketError
	KindAddressError
	KindTimeout
	KindTooLate
	KindNeedMoreData
	KindAlreadyExists
	KindNotFound
	KindCollision
	KindNotImplemented
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidPacket:
		return "InvalidPacket"
	case KindInvalidState:
		return "InvalidState"
	case KindNoBufferSpace:
		return "NoBufferSpace"
	case KindCryptError:
		return "CryptError"
	case KindSocketError:
		return "SocketError"
	case KindAddressError:
		return "AddressError"
	case KindTimeout:
		return "Timeout"
	case KindTooLate:
		return "TooLate"
	case KindNeedMoreData:
		return "NeedMoreData"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotFound:
		return "NotFound"
	case KindCollision:
		return "Collision"
	case KindNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// Error wraps a sentinel-style message with an ErrorKind so it can be
// inspected with errors.As without the caller needing to know every
// individual sentinel this package defines.
type Error struct {
	kind ErrorKind
	msg  string
	err  error
}

func newErr(kind ErrorKind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() ErrorKind { return e.kind }

// Kind extracts the ErrorKind from err if it (or something it wraps) is an
// *Error from this package, otherwise KindUnknown.
func Kind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

func wrapErr(kind ErrorKind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, err: cause}
}

var (
	ErrInvalidPacket    = newErr(KindInvalidPacket, "rtp: invalid packet")
	ErrInvalidState     = newErr(KindInvalidState, "rtp: invalid state")
	ErrNoBufferSpace    = newErr(KindNoBufferSpace, "rtp: not enough bytes left")
	ErrCryptError       = newErr(KindCryptError, "rtp: crypto error")
	ErrSocketError      = newErr(KindSocketError, "rtp: socket error")
	ErrAddressError     = newErr(KindAddressError, "rtp: remote address error")
	ErrTimeout          = newErr(KindTimeout, "rtp: timeout")
	ErrTooLate          = newErr(KindTooLate, "rtp: packet too late")
	ErrNeedMoreData     = newErr(KindNeedMoreData, "rtp: need more data")
	ErrAlreadyExists    = newErr(KindAlreadyExists, "rtp: already exists")
	ErrNotFound         = newErr(KindNotFound, "rtp: not found")
	ErrCollision        = newErr(KindCollision, "rtp: ssrc collision")
	ErrNotImplemented   = newErr(KindNotImplemented, "rtp: not implemented")
	ErrStreamLost       = wrapErr(KindTimeout, "rtp: stream lost", nil)
	ErrSocketWouldBlock = wrapErr(KindTimeout, "rtp: socket would block", nil)
)
