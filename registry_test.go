// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, cc *CallContext, params []interface{}) (interface{}, error) {
	return nil, nil
}

func TestRegistryAddFunctionRejectsReservedName(t *testing.T) {
	reg := NewRegistry()
	err := reg.AddFunction(&FunctionDescriptor{Name: DescribeService, ResultType: Bool, Handler: noopHandler})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegistryAddFunctionRejectsUnknownType(t *testing.T) {
	reg := NewRegistry()
	err := reg.AddFunction(&FunctionDescriptor{Name: "f", ResultType: TypeTag("Missing"), Handler: noopHandler})
	assert.ErrorIs(t, err, ErrUnknownType)

	err = reg.AddFunction(&FunctionDescriptor{Name: "g", ResultType: ArrayOf(TypeTag("Missing")), Handler: noopHandler})
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegistryAddFunctionDuplicateName(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{Name: "f", ResultType: Bool, Handler: noopHandler}))
	err := reg.AddFunction(&FunctionDescriptor{Name: "f", ResultType: Bool, Handler: noopHandler})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestRegistryAddCustomTypeThenFunctionReferencingIt(t *testing.T) {
	reg := NewRegistry()
	enum, err := NewEnumType("PhoneType", "", 0)
	require.NoError(t, err)
	require.NoError(t, enum.AddValue("HOME", ""))
	require.NoError(t, reg.AddCustomType(enum))

	err = reg.AddCustomType(enum)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	err = reg.AddFunction(&FunctionDescriptor{
		Name:       "echo_enum",
		ResultType: TypeTag("PhoneType"),
		Params:     []ParamDescriptor{{Name: "type", Type: TypeTag("PhoneType")}},
		Handler:    noopHandler,
	})
	require.NoError(t, err)

	fd, ok := reg.Lookup("echo_enum")
	require.True(t, ok)
	assert.Equal(t, "echo_enum", fd.Name)
}

func TestRegistryFunctionsAndCustomTypesPreserveOrder(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{Name: "b", ResultType: Bool, Handler: noopHandler}))
	require.NoError(t, reg.AddFunction(&FunctionDescriptor{Name: "a", ResultType: Bool, Handler: noopHandler}))

	names := make([]string, 0, 2)
	for _, f := range reg.Functions() {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"b", "a"}, names)
}

func TestToggleRecordValidation(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.recordValidationEnabled())
	reg.ToggleRecordValidation(false)
	assert.False(t, reg.recordValidationEnabled())
}
