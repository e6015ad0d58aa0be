// Package message defines the RPC message structure exchanged between client and server.
//
// RPCMessage is the envelope for every call. It is serialized by the codec layer
// and wrapped in a protocol frame for transmission over TCP.
package message

// Status tells the client how to read a response.
type Status byte

const (
	// StatusOK: Payload is the encoded reply.
	StatusOK Status = 0
	// StatusUserException: Payload is a sliced exception (see package slicing).
	StatusUserException Status = 1
	// StatusUnknownException: the handler raised something that is not sent typed;
	// Error carries its text.
	StatusUnknownException Status = 2
	// StatusFailure: transport, protocol or dispatch failure; Error carries the reason.
	StatusFailure Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUserException:
		return "user_exception"
	case StatusUnknownException:
		return "unknown_exception"
	case StatusFailure:
		return "failure"
	}
	return "invalid"
}

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool { return s <= StatusFailure }

// RPCMessage carries the data for a single RPC request or response.
//
//   - On request:  ServiceMethod is set, Payload contains the serialized args.
//   - On response: Status says what Payload holds; Error is set for the two
//     statuses that carry only text.
type RPCMessage struct {
	ServiceMethod string `json:"service_method" msgpack:"service_method"` // "ServiceName.MethodName", e.g. "TestIntf.KnownDerivedAsBase"
	Status        Status `json:"status" msgpack:"status"`
	Error         string `json:"error,omitempty" msgpack:"error,omitempty"`
	Payload       []byte `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// Failure builds a failure response for serviceMethod.
func Failure(serviceMethod, reason string) *RPCMessage {
	return &RPCMessage{ServiceMethod: serviceMethod, Status: StatusFailure, Error: reason}
}

// Failed reports whether the message is a failure or an unknown exception,
// the two statuses whose Payload is empty.
func (m *RPCMessage) Failed() bool {
	return m.Status == StatusFailure || m.Status == StatusUnknownException
}
