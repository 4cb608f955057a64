// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"context"
	"fmt"
	"reflect"
)

// HandlerFunc is the uniform shape every registered function is invoked
// through. params holds the already-decoded positional arguments (bool,
// json.Number, string, []interface{} or map[string]interface{}, per the
// JSON kind of the incoming value); their count always matches the
// signature, and their types have been checked only when the descriptor's
// ValidateParams is set.
//
// The return value is either an immediate result, a *Future (or any other
// Deferred) to be resolved later, or a non-nil error. A *Error returned
// here is treated as a domain error and copied verbatim into the reply; any
// other error is demoted to an internal error by the dispatcher.
type HandlerFunc func(ctx context.Context, cc *CallContext, params []interface{}) (interface{}, error)

var (
	errorIface   = reflect.TypeOf((*error)(nil)).Elem()
	contextIface = reflect.TypeOf((*context.Context)(nil)).Elem()
	ccPtrType    = reflect.TypeOf((*CallContext)(nil))
)

// Bind reflects over a native Go function and adapts it into a
// HandlerFunc, the way jamescun-jsonrpc and chowey-jsonrpc's Register
// adapt a plain function into their respective Handler interfaces. fn's
// signature must be:
//
//	func([context.Context], [*CallContext], arg1, arg2, ...) (result, error)
//	func([context.Context], [*CallContext], arg1, arg2, ...) error
//
// A leading context.Context and/or *CallContext parameter is optional and
// detected positionally; remaining parameters are converted from their
// decoded JSON form via a marshal/unmarshal round trip into fn's declared
// parameter types, so handlers can take concrete types (string, int,
// []string, a pointer to a generated record struct, ...) instead of
// interface{}.
func Bind(fn interface{}) HandlerFunc {
	fnV := reflect.ValueOf(fn)
	fnT := fnV.Type()
	if fnT.Kind() != reflect.Func {
		panic(fmt.Sprintf("reflectrpc: Bind requires a function, got %s", fnT.Kind()))
	}
	if fnT.NumOut() < 1 || fnT.NumOut() > 2 {
		panic("reflectrpc: bound function must return (error) or (result, error)")
	}
	if !fnT.Out(fnT.NumOut() - 1).Implements(errorIface) {
		panic("reflectrpc: bound function's last return value must be an error")
	}

	in := 0
	wantsCtx := fnT.NumIn() > in && fnT.In(in) == contextIface
	if wantsCtx {
		in++
	}
	wantsCC := fnT.NumIn() > in && fnT.In(in) == ccPtrType
	if wantsCC {
		in++
	}
	paramTypes := make([]reflect.Type, fnT.NumIn()-in)
	for i := range paramTypes {
		paramTypes[i] = fnT.In(in + i)
	}

	return func(ctx context.Context, cc *CallContext, params []interface{}) (interface{}, error) {
		if len(params) != len(paramTypes) {
			return nil, Errorf(KindInternalError, "bound function expects %d parameters, got %d", len(paramTypes), len(params))
		}

		args := make([]reflect.Value, 0, fnT.NumIn())
		if wantsCtx {
			args = append(args, reflect.ValueOf(ctx))
		}
		if wantsCC {
			args = append(args, reflect.ValueOf(cc))
		}
		for i, p := range params {
			v, err := convertParam(p, paramTypes[i])
			if err != nil {
				return nil, Errorf(KindInternalError, "converting parameter %d: %v", i, err)
			}
			args = append(args, v)
		}

		out := fnV.Call(args)
		errV := out[len(out)-1]
		if !errV.IsNil() {
			return nil, errV.Interface().(error)
		}
		if len(out) == 2 {
			return out[0].Interface(), nil
		}
		return nil, nil
	}
}

// convertParam round-trips a decoded JSON value through the encoder so it
// lands in want's concrete Go type, regardless of whether want is a
// primitive, a slice, or a pointer to a generated struct.
func convertParam(v interface{}, want reflect.Type) (reflect.Value, error) {
	data, err := wireJSON.Marshal(v)
	if err != nil {
		return reflect.Value{}, err
	}
	dst := reflect.New(want)
	if err := wireJSON.Unmarshal(data, dst.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return dst.Elem(), nil
}
