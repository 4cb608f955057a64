// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// echoAddRegistry grounds the dispatcher tests in the same two functions
// (echo, add) the original Python implementation's __main__ smoke script
// registered, per spec.md §8 S1/S2/S3.
func echoAddRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{
		Name:           "echo",
		ResultType:     String,
		ValidateParams: true,
		Params:         []ParamDescriptor{{Name: "value", Type: String}},
		Handler: func(ctx context.Context, cc *CallContext, params []interface{}) (interface{}, error) {
			return params[0], nil
		},
	}))
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{
		Name:           "add",
		ResultType:     Int,
		ValidateParams: true,
		Params:         []ParamDescriptor{{Name: "a", Type: Int}, {Name: "b", Type: Int}},
		Handler: Bind(func(a, b int) (int, error) {
			return a + b, nil
		}),
	}))
	return reg
}

func handleOnce(t *testing.T, d *Dispatcher, raw string) []byte {
	t.Helper()
	var got []byte
	called := false
	d.Handle(context.Background(), nil, []byte(raw), func(data []byte) {
		called = true
		got = data
	})
	require.True(t, called, "expected exactly one reply")
	return got
}

// TestDispatchEcho reproduces spec.md §8 S1.
func TestDispatchEcho(t *testing.T) {
	d := NewDispatcher(echoAddRegistry(t), zaptest.NewLogger(t))
	got := handleOnce(t, d, `{"method":"echo","params":["Hello Server"],"id":1}`)
	assert.JSONEq(t, `{"id":1,"result":"Hello Server","error":null}`, string(got))
}

// TestDispatchAdd reproduces spec.md §8 S2.
func TestDispatchAdd(t *testing.T) {
	d := NewDispatcher(echoAddRegistry(t), zaptest.NewLogger(t))
	got := handleOnce(t, d, `{"method":"add","params":[5,6],"id":2}`)
	assert.JSONEq(t, `{"id":2,"result":11,"error":null}`, string(got))
}

// TestDispatchAddTypeError reproduces spec.md §8 S3.
func TestDispatchAddTypeError(t *testing.T) {
	d := NewDispatcher(echoAddRegistry(t), zaptest.NewLogger(t))
	got := handleOnce(t, d, `{"method":"add","params":[4,8.9],"id":3}`)
	assert.JSONEq(t, `{"id":3,"result":null,"error":{"name":"TypeError","message":"add: Expected value of type 'int' for parameter 'b' but got value of type 'float'"}}`, string(got))
}

func TestDispatchUnknownMethod(t *testing.T) {
	d := NewDispatcher(echoAddRegistry(t), zaptest.NewLogger(t))
	got := handleOnce(t, d, `{"method":"nope","params":[],"id":9}`)
	var reply Reply
	require.NoError(t, wireJSON.Unmarshal(got, &reply))
	require.NotNil(t, reply.Error)
	assert.Equal(t, KindInvalidRequest, reply.Error.Name)
	assert.Contains(t, reply.Error.Message, "__describe_functions")
}

func TestDispatchInvalidJSON(t *testing.T) {
	d := NewDispatcher(echoAddRegistry(t), zaptest.NewLogger(t))
	got := handleOnce(t, d, `not json`)
	assert.JSONEq(t, `{"id":-1,"result":null,"error":{"name":"InvalidRequest","message":"Received invalid JSON"}}`, string(got))
}

// TestDispatchNotificationProducesNoReply reproduces spec.md §8 S6 and
// property 4 (notification silence), including when the handler fails.
func TestDispatchNotificationProducesNoReply(t *testing.T) {
	sideEffect := false
	reg := NewRegistry()
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{
		Name:       "notify_handler",
		ResultType: Bool,
		Handler: func(ctx context.Context, cc *CallContext, params []interface{}) (interface{}, error) {
			sideEffect = true
			return true, nil
		},
	}))
	d := NewDispatcher(reg, zaptest.NewLogger(t))

	called := false
	d.Handle(context.Background(), nil, []byte(`{"method":"notify_handler","params":[],"id":null}`), func(data []byte) {
		called = true
	})
	assert.False(t, called)
	assert.True(t, sideEffect)
}

func TestDispatchNotificationSwallowsHandlerError(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{
		Name:       "boom",
		ResultType: Bool,
		Handler: func(ctx context.Context, cc *CallContext, params []interface{}) (interface{}, error) {
			return nil, DomainError("kaboom")
		},
	}))
	d := NewDispatcher(reg, zaptest.NewLogger(t))

	called := false
	d.Handle(context.Background(), nil, []byte(`{"method":"boom","params":[],"id":null}`), func(data []byte) {
		called = true
	})
	assert.False(t, called)
}

// TestDispatchInternalErrorDemotion reproduces spec.md §8 property 5.
func TestDispatchInternalErrorDemotion(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{
		Name:       "boom",
		ResultType: Bool,
		Handler: func(ctx context.Context, cc *CallContext, params []interface{}) (interface{}, error) {
			return nil, errUnexpected
		},
	}))
	d := NewDispatcher(reg, zaptest.NewLogger(t))

	got := handleOnce(t, d, `{"method":"boom","params":[],"id":7}`)
	assert.JSONEq(t, `{"id":7,"result":null,"error":{"name":"InternalError","message":"Internal error"}}`, string(got))
}

// TestDispatchDeferredResult exercises the asynchronous path (§4.D step 8):
// the reply is produced by the Future's completion continuation, not
// synchronously within Handle.
func TestDispatchDeferredResult(t *testing.T) {
	future := NewFuture()
	reg := NewRegistry()
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{
		Name:       "slow",
		ResultType: String,
		Handler: func(ctx context.Context, cc *CallContext, params []interface{}) (interface{}, error) {
			return future, nil
		},
	}))
	d := NewDispatcher(reg, zaptest.NewLogger(t))

	var got []byte
	d.Handle(context.Background(), nil, []byte(`{"method":"slow","params":[],"id":4}`), func(data []byte) {
		got = data
	})
	assert.Nil(t, got, "reply must not be produced before the deferred resolves")

	future.Resolve("done")
	require.NotNil(t, got)
	assert.JSONEq(t, `{"id":4,"result":"done","error":null}`, string(got))
}

func TestDispatchDescribeService(t *testing.T) {
	reg := echoAddRegistry(t)
	reg.SetServiceDescription("calc", "a calculator", "1.0", nil)
	d := NewDispatcher(reg, zaptest.NewLogger(t))

	got := handleOnce(t, d, `{"method":"__describe_service","params":[],"id":1}`)
	var reply Reply
	require.NoError(t, wireJSON.Unmarshal(got, &reply))
	assert.Nil(t, reply.Error)
	assert.Contains(t, string(reply.Result), `"name":"calc"`)
}

func TestDispatchDescribeFunctionsListsAddAndEcho(t *testing.T) {
	d := NewDispatcher(echoAddRegistry(t), zaptest.NewLogger(t))
	got := handleOnce(t, d, `{"method":"__describe_functions","params":[],"id":1}`)

	var reply Reply
	require.NoError(t, wireJSON.Unmarshal(got, &reply))
	var fns []functionWire
	require.NoError(t, wireJSON.Unmarshal(reply.Result, &fns))
	names := make([]string, 0, len(fns))
	for _, f := range fns {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"echo", "add"}, names)
}

var errUnexpected = &stubError{"boom: unexpected failure"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
