// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// TypeTag is the textual form of a declared type: a primitive tag, the
// typed-array syntax "array<T>", or a custom type name (an identifier
// beginning with an upper-case letter).
type TypeTag string

// The closed set of primitive type tags.
const (
	Bool   TypeTag = "bool"
	Int    TypeTag = "int"
	Float  TypeTag = "float"
	String TypeTag = "string"
	Array  TypeTag = "array"
	Hash   TypeTag = "hash"
	Base64 TypeTag = "base64"
)

var primitives = map[TypeTag]bool{
	Bool: true, Int: true, Float: true, String: true, Array: true, Hash: true, Base64: true,
}

// IsPrimitive reports whether t is one of the closed set of primitive tags.
func (t TypeTag) IsPrimitive() bool {
	return primitives[t]
}

// ArrayOf builds the typed-array syntax "array<elem>".
func ArrayOf(elem TypeTag) TypeTag {
	return TypeTag("array<" + string(elem) + ">")
}

// Elem reports the element type of a typed array tag and whether t was one.
func (t TypeTag) Elem() (TypeTag, bool) {
	s := string(t)
	if !strings.HasPrefix(s, "array<") || !strings.HasSuffix(s, ">") {
		return "", false
	}
	return TypeTag(s[len("array<") : len(s)-1]), true
}

// IsCustom reports whether t has the form of a custom type name: neither a
// primitive nor typed-array syntax, beginning with an upper-case letter.
// It does not check that the name is registered.
func (t TypeTag) IsCustom() bool {
	if t.IsPrimitive() {
		return false
	}
	if _, ok := t.Elem(); ok {
		return false
	}
	r := []rune(string(t))
	return len(r) > 0 && unicode.IsUpper(r[0])
}

// valid reports whether t is a syntactically well-formed type tag: a
// primitive, an array of a valid type, or a custom type name. It does not
// check that a referenced custom type is actually registered. The Registry
// resolves names later: AddFunction checks the custom types a function's
// parameters and result name directly, while a custom type named by a
// record field is looked up only when a value is validated against it.
func (t TypeTag) valid() bool {
	if t.IsPrimitive() {
		return true
	}
	if elem, ok := t.Elem(); ok {
		return elem.valid()
	}
	return t.IsCustom()
}

// validTypeName reports whether name is a legal custom type name: an
// identifier beginning with an upper-case letter.
func validTypeName(name string) bool {
	r := []rune(name)
	return len(r) > 0 && unicode.IsUpper(r[0])
}

// CustomType is implemented by EnumType and RecordType, the two kinds of
// user-defined composite type a registry can hold.
type CustomType interface {
	TypeName() string
	isCustomType()
}

// EnumValue is one named, integer-valued member of an EnumType.
type EnumValue struct {
	Name        string
	Value       int
	Description string
}

// EnumType is an immutable description of an enumeration: an ordered,
// append-only-during-registration list of named integer values.
//
// Values are assigned sequentially starting from a configurable base
// (default 0). Both names and integers are unique within one enumeration.
type EnumType struct {
	name        string
	description string
	next        int
	values      []EnumValue
	byName      map[string]EnumValue
	byInt       map[int]EnumValue
}

// NewEnumType constructs an empty enumeration with the given base value for
// the first added member (default 0 if base is passed as 0).
func NewEnumType(name, description string, base int) (*EnumType, error) {
	if !validTypeName(name) {
		return nil, fmt.Errorf("reflectrpc: enum type name %q must begin with an upper-case letter", name)
	}
	return &EnumType{
		name:        name,
		description: description,
		next:        base,
		byName:      make(map[string]EnumValue),
		byInt:       make(map[int]EnumValue),
	}, nil
}

// AddValue appends the next sequential value to the enumeration.
func (e *EnumType) AddValue(name, description string) error {
	if _, exists := e.byName[name]; exists {
		return fmt.Errorf("reflectrpc: enum %s already has a value named %q", e.name, name)
	}
	v := EnumValue{Name: name, Value: e.next, Description: description}
	e.values = append(e.values, v)
	e.byName[name] = v
	e.byInt[v.Value] = v
	e.next++
	return nil
}

// TypeName implements CustomType.
func (e *EnumType) TypeName() string { return e.name }
func (*EnumType) isCustomType()      {}

// Start returns the first assigned integer value.
func (e *EnumType) Start() int {
	if len(e.values) == 0 {
		return e.next
	}
	return e.values[0].Value
}

// Next returns one past the last assigned integer value: the half-open
// range [Start, Next) is exactly the set of integers the enum accepts.
func (e *EnumType) Next() int { return e.next }

// Values returns the ordered list of declared values.
func (e *EnumType) Values() []EnumValue {
	out := make([]EnumValue, len(e.values))
	copy(out, e.values)
	return out
}

// AcceptsName reports whether name is one of the enum's declared names.
func (e *EnumType) AcceptsName(name string) bool {
	_, ok := e.byName[name]
	return ok
}

// AcceptsInt reports whether n falls in the half-open range [Start, Next).
func (e *EnumType) AcceptsInt(n int) bool {
	return n >= e.Start() && n < e.next
}

// Field is one named, typed member of a RecordType.
type Field struct {
	Name        string
	Type        TypeTag
	Description string
}

// RecordType is an immutable description of a named hash: an
// insertion-ordered list of uniquely-named, typed fields.
type RecordType struct {
	name        string
	description string
	fields      []Field
	index       map[string]int
}

// NewRecordType constructs an empty record type.
func NewRecordType(name, description string) (*RecordType, error) {
	if !validTypeName(name) {
		return nil, fmt.Errorf("reflectrpc: record type name %q must begin with an upper-case letter", name)
	}
	return &RecordType{name: name, description: description, index: make(map[string]int)}, nil
}

// AddField appends a field to the record. typ must be a well-formed type
// tag; referenced custom type names are resolved later, against a Registry.
func (r *RecordType) AddField(name string, typ TypeTag, description string) error {
	if _, exists := r.index[name]; exists {
		return fmt.Errorf("reflectrpc: record %s already has a field named %q", r.name, name)
	}
	if !typ.valid() {
		return fmt.Errorf("reflectrpc: field %s.%s has invalid type tag %q", r.name, name, typ)
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Type: typ, Description: description})
	return nil
}

// TypeName implements CustomType.
func (r *RecordType) TypeName() string { return r.name }
func (*RecordType) isCustomType()      {}

// Fields returns the record's fields in declaration order.
func (r *RecordType) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// ParamDescriptor describes one positional parameter of a function.
type ParamDescriptor struct {
	Name        string
	Type        TypeTag
	Description string
}

// FunctionDescriptor is a registered function: its handler plus the
// signature the validator and introspection builtins describe it with.
type FunctionDescriptor struct {
	Name              string
	Description       string
	Params            []ParamDescriptor
	ResultType        TypeTag
	ResultDescription string

	// NeedsContext, when set, causes the dispatcher to pass the call
	// context as a leading argument to Handler.
	NeedsContext bool

	// ValidateParams toggles per-function parameter type-checking. When
	// false, only arity is checked and the handler receives the raw
	// decoded JSON values.
	ValidateParams bool

	Handler HandlerFunc
}

func (f *FunctionDescriptor) validate() error {
	if f.Name == "" {
		return errors.New("reflectrpc: function name must not be empty")
	}
	if f.Handler == nil {
		return fmt.Errorf("reflectrpc: function %s has no handler", f.Name)
	}
	if !f.ResultType.valid() {
		return fmt.Errorf("reflectrpc: function %s has invalid result type %q", f.Name, f.ResultType)
	}
	for _, p := range f.Params {
		if !p.Type.valid() {
			return fmt.Errorf("reflectrpc: function %s parameter %s has invalid type %q", f.Name, p.Name, p.Type)
		}
	}
	return nil
}

// ServiceDescriptor describes the service as a whole, returned verbatim by
// __describe_service.
type ServiceDescriptor struct {
	Name         string
	Description  string
	Version      string
	CustomFields map[string]interface{}
}
