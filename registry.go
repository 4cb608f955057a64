// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"errors"
	"fmt"
	"sync"
)

// Reserved builtin method names. These occupy the function namespace
// unconditionally; Registry.AddFunction rejects any attempt to register a
// function under one of these names.
const (
	DescribeService      = "__describe_service"
	DescribeFunctions    = "__describe_functions"
	DescribeCustomTypes  = "__describe_custom_types"
)

var reservedBuiltins = map[string]bool{
	DescribeService:     true,
	DescribeFunctions:   true,
	DescribeCustomTypes: true,
}

// Registration errors. Registry.AddCustomType and Registry.AddFunction
// wrap one of these with fmt.Errorf so callers can match with errors.Is.
var (
	ErrAlreadyExists = errors.New("reflectrpc: already exists")
	ErrBadType       = errors.New("reflectrpc: wrong custom type variant")
	ErrUnknownType   = errors.New("reflectrpc: references an unregistered custom type")
)

// Registry holds the function and custom-type namespaces for one service.
// A Registry is built up during process startup by a single goroutine and
// is read-only for the remainder of the process's life: once serving
// begins, Lookup and the introspection accessors require no locking. The
// mutex below only protects the construction phase against accidental
// concurrent registration.
type Registry struct {
	mu sync.Mutex

	service ServiceDescriptor

	functions map[string]*FunctionDescriptor
	funcOrder []string

	types      map[string]CustomType
	typeOrder  []string

	validateRecords bool
}

// NewRegistry returns an empty registry with record validation enabled.
func NewRegistry() *Registry {
	return &Registry{
		functions:       make(map[string]*FunctionDescriptor),
		types:           make(map[string]CustomType),
		validateRecords: true,
	}
}

// SetServiceDescription sets the metadata returned by __describe_service.
func (r *Registry) SetServiceDescription(name, description, version string, customFields map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.service = ServiceDescriptor{
		Name:         name,
		Description:  description,
		Version:      version,
		CustomFields: customFields,
	}
}

// ServiceDescriptor returns the registered service metadata.
func (r *Registry) ServiceDescriptor() ServiceDescriptor {
	return r.service
}

// AddCustomType registers an enumeration or record type. It fails with
// ErrAlreadyExists if the name is taken.
func (r *Registry) AddCustomType(t CustomType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.TypeName()
	if _, exists := r.types[name]; exists {
		return fmt.Errorf("%w: custom type %q", ErrAlreadyExists, name)
	}
	switch t.(type) {
	case *EnumType, *RecordType:
		// the only two known variants
	default:
		return fmt.Errorf("%w: %T", ErrBadType, t)
	}

	r.types[name] = t
	r.typeOrder = append(r.typeOrder, name)
	return nil
}

// AddFunction registers a function. It fails with ErrAlreadyExists if the
// name is taken or reserved, and ErrUnknownType if any parameter or result
// type references a custom type that is not yet registered.
func (r *Registry) AddFunction(f *FunctionDescriptor) error {
	if err := f.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if reservedBuiltins[f.Name] {
		return fmt.Errorf("%w: %q is a reserved builtin", ErrAlreadyExists, f.Name)
	}
	if _, exists := r.functions[f.Name]; exists {
		return fmt.Errorf("%w: function %q", ErrAlreadyExists, f.Name)
	}

	if err := r.checkKnownLocked(f.ResultType); err != nil {
		return err
	}
	for _, p := range f.Params {
		if err := r.checkKnownLocked(p.Type); err != nil {
			return err
		}
	}

	r.functions[f.Name] = f
	r.funcOrder = append(r.funcOrder, f.Name)
	return nil
}

// checkKnownLocked walks typed-array nesting down to the referenced
// primitive or custom type name and verifies custom names are registered.
// Callers must hold r.mu.
func (r *Registry) checkKnownLocked(t TypeTag) error {
	for {
		if elem, ok := t.Elem(); ok {
			t = elem
			continue
		}
		break
	}
	if t.IsPrimitive() {
		return nil
	}
	if _, ok := r.types[string(t)]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
	return nil
}

// ToggleRecordValidation enables or disables the "unknown/missing field"
// checks the validator performs on record-typed parameters.
func (r *Registry) ToggleRecordValidation(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validateRecords = enabled
}

// recordValidationEnabled reports the current record-validation setting.
func (r *Registry) recordValidationEnabled() bool {
	return r.validateRecords
}

// Lookup returns the function descriptor registered under name.
func (r *Registry) Lookup(name string) (*FunctionDescriptor, bool) {
	f, ok := r.functions[name]
	return f, ok
}

// LookupType returns the custom type registered under name.
func (r *Registry) LookupType(name string) (CustomType, bool) {
	t, ok := r.types[name]
	return t, ok
}

// Functions returns the registered function descriptors in registration
// order.
func (r *Registry) Functions() []*FunctionDescriptor {
	out := make([]*FunctionDescriptor, 0, len(r.funcOrder))
	for _, name := range r.funcOrder {
		out = append(out, r.functions[name])
	}
	return out
}

// CustomTypes returns the registered custom types in registration order.
func (r *Registry) CustomTypes() []CustomType {
	out := make([]CustomType, 0, len(r.typeOrder))
	for _, name := range r.typeOrder {
		out = append(out, r.types[name])
	}
	return out
}
