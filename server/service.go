package server

import (
	"context"
	"github.com/go-faster/errors"
	"reflect"
)

type methodType struct {
	method     reflect.Method
	hasContext bool // func(ctx, *Args, *Reply) error
	ArgType    reflect.Type
	ReplyType  reflect.Type
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// NewService scans rcvr for RPC methods. name overrides the struct's type
// name when non-empty.
func NewService(rcvr any, name string) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errors.Errorf("rpc: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	srv := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	srv.RegisterMethods()
	if len(srv.method) == 0 {
		return nil, errors.Errorf("rpc: %s has no exported methods of a suitable type", name)
	}
	return srv, nil
}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// RegisterMethods keeps the exported methods shaped like
//
//	func (rcvr) Name(*Args, *Reply) error
//	func (rcvr) Name(context.Context, *Args, *Reply) error
func (s *service) RegisterMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}
		first := 1
		switch {
		case mt.NumIn() == 4 && mt.In(1) == contextType:
			first = 2
		case mt.NumIn() == 3:
		default:
			continue
		}
		if mt.In(first).Kind() != reflect.Ptr || mt.In(first+1).Kind() != reflect.Ptr {
			continue
		}
		s.method[method.Name] = &methodType{
			method:     method,
			hasContext: first == 2,
			ArgType:    mt.In(first).Elem(),
			ReplyType:  mt.In(first + 1).Elem(),
		}
	}
}

// Call invokes mType via reflection.
func (s *service) Call(ctx context.Context, mType *methodType, argv, replyv reflect.Value) error {
	args := []reflect.Value{s.rcvr, argv, replyv}
	if mType.hasContext {
		args = []reflect.Value{s.rcvr, reflect.ValueOf(ctx), argv, replyv}
	}
	results := mType.method.Func.Call(args)
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
