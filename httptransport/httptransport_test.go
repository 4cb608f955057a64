// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package httptransport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reflectrpc/reflectrpc"
	"github.com/reflectrpc/reflectrpc/httptransport"
)

func addRegistry(t *testing.T) *reflectrpc.Registry {
	t.Helper()
	reg := reflectrpc.NewRegistry()
	require.NoError(t, reg.AddFunction(&reflectrpc.FunctionDescriptor{
		Name:           "add",
		ResultType:     reflectrpc.Int,
		ValidateParams: true,
		Params:         []reflectrpc.ParamDescriptor{{Name: "a", Type: reflectrpc.Int}, {Name: "b", Type: reflectrpc.Int}},
		Handler: reflectrpc.Bind(func(a, b int) (int, error) { return a + b, nil }),
	}))
	return reg
}

func TestHandlerRoundTrip(t *testing.T) {
	h := &httptransport.Handler{Dispatcher: reflectrpc.NewDispatcher(addRegistry(t), nil)}
	ts := httptest.NewServer(h)
	defer ts.Close()

	client := &httptransport.Client{URL: ts.URL + "/rpc"}
	reply, err := client.Send(context.Background(), []byte(`{"method":"add","params":[2,3],"id":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"result":5,"error":null}`, string(reply))
}

func TestHandlerWrongPathIs404(t *testing.T) {
	h := &httptransport.Handler{Dispatcher: reflectrpc.NewDispatcher(addRegistry(t), nil)}
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/wrong", "application/json-rpc", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerBasicAuth(t *testing.T) {
	h := &httptransport.Handler{
		Dispatcher: reflectrpc.NewDispatcher(addRegistry(t), nil),
		Realm:      "test",
		Authenticate: func(r *http.Request) (*reflectrpc.CallContext, bool) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != "alice" || pass != "secret" {
				return nil, false
			}
			return &reflectrpc.CallContext{Authenticated: true, Username: user}, true
		},
	}
	ts := httptest.NewServer(h)
	defer ts.Close()

	client := &httptransport.Client{URL: ts.URL + "/rpc"}
	_, err := client.Send(context.Background(), []byte(`{"method":"add","params":[1,1],"id":1}`))
	require.Error(t, err)
	httpErr, ok := err.(*httptransport.HttpException)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)

	authed := &httptransport.Client{URL: ts.URL + "/rpc", Username: "alice", Password: "secret"}
	reply, err := authed.Send(context.Background(), []byte(`{"method":"add","params":[1,1],"id":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"result":2,"error":null}`, string(reply))
}
