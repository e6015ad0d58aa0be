package slicingtest

import (
	"slice-rpc/exception"
)

// Relay runs in the client process and raises client-private exceptions
// for TestIntf's relay operations.
type Relay struct {
	types *exception.Hierarchy
}

func NewRelay(types *exception.Hierarchy) *Relay {
	return &Relay{types: types}
}

func (r *Relay) preserved2() error {
	const shared = "bc:pc"
	e, err := r.types.New("::Test::Preserved2", exception.Fields{
		"b":   "base",
		"kp":  "preserved",
		"kpd": "derived",
		"p1":  shared,
		"p2":  shared,
	})
	if err != nil {
		return err
	}
	return e
}

func (r *Relay) KnownPreservedAsBase(_ *Empty, _ *Empty) error           { return r.preserved2() }
func (r *Relay) KnownPreservedAsKnownPreserved(_ *Empty, _ *Empty) error { return r.preserved2() }
func (r *Relay) UnknownPreservedAsBase(_ *Empty, _ *Empty) error         { return r.preserved2() }
func (r *Relay) UnknownPreservedAsKnownPreserved(_ *Empty, _ *Empty) error {
	return r.preserved2()
}

func (r *Relay) ClientPrivateException(_ *Empty, _ *Empty) error {
	e, err := r.types.New("::Test::ClientPrivateException", exception.Fields{
		"b":   "ClientPrivateException.b",
		"cpe": "ClientPrivate",
	})
	if err != nil {
		return err
	}
	return e
}
