// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// kindOf classifies a decoded JSON value the way the primitive-check step
// of the validator needs: json.Number is split into "int" or "float" by
// inspecting its literal text for a fractional or exponent part, mirroring
// the distinction JavaScript's own JSON.parse erases but this protocol
// requires.
func kindOf(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case json.Number:
		if strings.ContainsAny(string(t), ".eE") {
			return "float"
		}
		return "int"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "hash"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// validateParams implements 4.C step 1 (arity) and then dispatches each
// argument into validateValue rooted at its declared parameter name.
func validateParams(fd *FunctionDescriptor, reg *Registry, values []interface{}) *Error {
	if len(values) != len(fd.Params) {
		return paramErrorf("Expected %d parameters for '%s' but got %d", len(fd.Params), fd.Name, len(values))
	}
	for i, p := range fd.Params {
		if err := validateValue(reg, fd.Name, p.Name, p.Type, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateValue implements 4.C steps 2-5: the recursive primitive / typed
// array / enum / record check. fnName is prefixed onto every message; path
// locates the failure, starting from the parameter's own name and growing
// with ".field" or "[i]" suffixes as validation recurses.
func validateValue(reg *Registry, fnName, path string, typ TypeTag, v interface{}) *Error {
	if elem, ok := typ.Elem(); ok {
		return validateArray(reg, fnName, path, elem, v)
	}
	if typ.IsCustom() {
		ct, ok := reg.LookupType(string(typ))
		if !ok {
			return Errorf(KindInternalError, "%s: parameter %q references unregistered custom type %q", fnName, path, typ)
		}
		switch t := ct.(type) {
		case *EnumType:
			return validateEnum(fnName, path, t, v)
		case *RecordType:
			return validateRecord(reg, fnName, path, t, v)
		default:
			return Errorf(KindInternalError, "%s: parameter %q references custom type %q of unknown kind", fnName, path, typ)
		}
	}
	return validatePrimitive(fnName, path, typ, v)
}

// validatePrimitive implements step 2. base64 is transported as a JSON
// string with no further decoding or alphabet check performed here.
func validatePrimitive(fnName, path string, typ TypeTag, v interface{}) *Error {
	kind := kindOf(v)

	if typ == Base64 {
		if kind != "string" {
			return typeMismatch(fnName, path, string(Base64), kind)
		}
		return nil
	}

	if kind != string(typ) {
		return typeMismatch(fnName, path, string(typ), kind)
	}
	return nil
}

func typeMismatch(fnName, path, expected, actual string) *Error {
	return typeErrorf("%s: Expected value of type '%s' for parameter '%s' but got value of type '%s'", fnName, expected, path, actual)
}

// validateArray implements step 3.
func validateArray(reg *Registry, fnName, path string, elem TypeTag, v interface{}) *Error {
	arr, ok := v.([]interface{})
	if !ok {
		return typeMismatch(fnName, path, "array", kindOf(v))
	}
	for i, item := range arr {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		if err := validateValue(reg, fnName, itemPath, elem, item); err != nil {
			return err
		}
	}
	return nil
}

// validateEnum implements step 4, distinguishing a right-kind-wrong-value
// mismatch from a wrong-kind mismatch as two different messages.
func validateEnum(fnName, path string, enum *EnumType, v interface{}) *Error {
	switch t := v.(type) {
	case string:
		if !enum.AcceptsName(t) {
			return typeErrorf("%s: '%s' is not a valid value for parameter '%s' of enum type '%s'", fnName, t, path, enum.TypeName())
		}
		return nil
	case json.Number:
		if kindOf(v) != "int" {
			break
		}
		n, err := t.Int64()
		if err != nil || !enum.AcceptsInt(int(n)) {
			return typeErrorf("%s: '%s' is not a valid value for parameter '%s' of enum type '%s'", fnName, t.String(), path, enum.TypeName())
		}
		return nil
	}
	return typeErrorf("%s: Parameter '%s' of enum type '%s' requires value of type int or string", fnName, path, enum.TypeName())
}

// validateRecord implements step 5. When record validation is disabled on
// the registry, only the outer object-ness of v is checked.
func validateRecord(reg *Registry, fnName, path string, rec *RecordType, v interface{}) *Error {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return typeMismatch(fnName, path, "hash", kindOf(v))
	}
	if !reg.recordValidationEnabled() {
		return nil
	}

	seen := make(map[string]bool, len(rec.Fields()))
	for _, f := range rec.Fields() {
		seen[f.Name] = true
		fv, ok := obj[f.Name]
		if !ok {
			return typeErrorf("%s: Missing field '%s.%s'", fnName, path, f.Name)
		}
		fieldPath := path + "." + f.Name
		if err := validateValue(reg, fnName, fieldPath, f.Type, fv); err != nil {
			return err
		}
	}
	for name := range obj {
		if !seen[name] {
			return typeErrorf("%s: Unknown field '%s.%s'", fnName, path, name)
		}
	}
	return nil
}
