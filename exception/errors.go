package exception

import (
	"bytes"
	"fmt"
)

// UnknownTypeError is a lookup miss. Decoders recover from it by falling
// back to an ancestor, so it never surfaces as a call failure on its own.
type UnknownTypeError struct {
	TypeID string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown exception type %s", e.TypeID)
}

// UnknownUserError is a well-formed exception none of whose slices could be
// reconstructed here: no slice type was known, or the compact format left no
// way to skip the unknown most-derived slice. The raw encoding is retained
// so a relay can forward it unchanged.
type UnknownUserError struct {
	TypeID string // most-derived type id found on the wire
	wire   []byte
}

// NewUnknownUserError captures the undecodable exception body.
func NewUnknownUserError(typeID string, wire []byte) *UnknownUserError {
	return &UnknownUserError{TypeID: typeID, wire: bytes.Clone(wire)}
}

// Wire returns the encoded exception exactly as it was received.
func (e *UnknownUserError) Wire() []byte { return bytes.Clone(e.wire) }

func (e *UnknownUserError) Error() string {
	return fmt.Sprintf("unknown user exception %s", e.TypeID)
}

// UnknownError is the opaque unhandled-failure signal: the peer failed with
// something it was not allowed, or not able, to send as a typed exception.
type UnknownError struct {
	Reason string
}

func (e *UnknownError) Error() string {
	return "unknown exception: " + e.Reason
}

// RemoteError wraps an exception received from a peer. Such an exception is
// foreign to the receiving process, and by default a server converts it into
// an UnknownError if a handler lets it escape. PassThrough produces a copy
// that is forwarded typed instead.
type RemoteError struct {
	exc     *Exception
	unknown *UnknownUserError
	convert bool
}

// NewRemoteError marks err as received from a peer. err must be an
// *Exception or an *UnknownUserError; anything else is returned as nil.
func NewRemoteError(err error) *RemoteError {
	switch v := err.(type) {
	case *Exception:
		return &RemoteError{exc: v, convert: true}
	case *UnknownUserError:
		return &RemoteError{unknown: v, convert: true}
	}
	return nil
}

// ConvertToUnhandled reports whether a server replying with this error must
// send an opaque UnknownError rather than the typed exception.
func (e *RemoteError) ConvertToUnhandled() bool { return e.convert }

// PassThrough returns a copy of e that a server forwards typed.
func (e *RemoteError) PassThrough() *RemoteError {
	c := *e
	c.convert = false
	return &c
}

// Exception returns the reconstructed exception, or nil when nothing of it
// was understood.
func (e *RemoteError) Exception() *Exception { return e.exc }

// Unknown returns the undecodable exception, or nil.
func (e *RemoteError) Unknown() *UnknownUserError { return e.unknown }

// TypeID returns the id of the exception as this process sees it.
func (e *RemoteError) TypeID() string {
	if e.exc != nil {
		return e.exc.TypeID()
	}
	return e.unknown.TypeID
}

func (e *RemoteError) Unwrap() error {
	if e.exc != nil {
		return e.exc
	}
	return e.unknown
}

func (e *RemoteError) Error() string {
	return "remote: " + e.Unwrap().Error()
}
