// Package corexerr defines the closed error-kind taxonomy the endpoint core
// distinguishes. Every error that crosses a package boundary in
// this module should be, or wrap, a *corexerr.Error so callers can branch on
// Kind with errors.As instead of string-matching messages.
package corexerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds the core distinguishes. Callers outside the
// core must never see a Kind other than these.
type Kind string

const (
	KindInvalidPassword       Kind = "invalid_password"
	KindInvalidArgs           Kind = "invalid_args"
	KindRemoteRefuse          Kind = "remote_refuse"
	KindRemoteOffline         Kind = "remote_offline"
	KindRemoteInternal        Kind = "remote_internal"
	KindTimeout               Kind = "timeout"
	KindOutgoingChannelFull   Kind = "outgoing_channel_full"
	KindOutgoingChannelClosed Kind = "outgoing_channel_closed"
	KindTransportIO           Kind = "transport_io"
	KindCryptoFailure         Kind = "crypto_failure"
	KindDecodeFailure         Kind = "decode_failure"
	KindEncodeFailure         Kind = "encode_failure"
	KindCodecParameterChange  Kind = "codec_parameter_change"
	KindUnsupportedPixelFmt   Kind = "unsupported_pixel_format"
	KindFileIO                Kind = "file_io"
	KindSerializationFailure  Kind = "serialization_failure"
	KindInternal              Kind = "internal"
)

// Error is the core's error type: a closed Kind plus an optional wrapped
// cause for logging. Two Errors are errors.Is-equal when their Kinds match,
// regardless of Cause — callers branch on Kind, not on message text.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, &Error{Kind: K}) match any *Error with the same
// Kind, independent of Msg/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinel returns a comparison target for errors.Is(err, corexerr.Sentinel(KindTimeout)).
func Sentinel(kind Kind) *Error {
	return &Error{Kind: kind}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting to
// KindInternal for anything else — the core must never leak an untyped error
// past its public API.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
