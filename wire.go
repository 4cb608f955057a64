// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

import (
	"bytes"
	"encoding/json"

	jsoniter "github.com/json-iterator/go"
)

// wireJSON is the codec used for envelope decoding and reply encoding
// throughout this package, matching the teacher's preference for
// json-iterator's standard-library-compatible configuration over the
// stdlib encoding/json for hot-path (un)marshaling.
var wireJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// rawOrNull marshals as the bare JSON literal null when empty instead of
// failing the way a nil encoding/json.RawMessage would. Modeled on the
// teacher's types.go RawMessage.MarshalJSON, which performs the same
// null-substitution for nil.
type rawOrNull json.RawMessage

// MarshalJSON implements json.Marshaler.
func (m rawOrNull) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}

// UnmarshalJSON implements json.Unmarshaler, keeping the raw JSON text.
func (m *rawOrNull) UnmarshalJSON(data []byte) error {
	*m = append((*m)[:0], data...)
	return nil
}

// Reply is the wire shape of a reflectrpc response envelope.
type Reply struct {
	ID     rawOrNull `json:"id"`
	Result rawOrNull `json:"result"`
	Error  *Error    `json:"error"`
}

// idUnreadable is the fallback id used when the request's own id could not
// be parsed at all, per the spec's "id = -1 when no id could be read".
var idUnreadable = rawOrNull("-1")

func errorReply(id rawOrNull, err *Error) []byte {
	data, mErr := wireJSON.Marshal(Reply{ID: id, Error: err})
	if mErr != nil {
		// err and id are both our own well-formed values; this should be
		// unreachable, but never emit invalid JSON for a reply.
		return []byte(`{"id":-1,"result":null,"error":{"name":"InternalError","message":"Internal error"}}`)
	}
	return data
}

func resultReply(id rawOrNull, result json.RawMessage) []byte {
	data, err := wireJSON.Marshal(Reply{ID: id, Result: rawOrNull(result)})
	if err != nil {
		return errorReply(id, WrapInternal(err))
	}
	return data
}

// envelope is the parsed, kind-checked shape of an incoming request.
type envelope struct {
	id           rawOrNull
	idReadable   bool
	method       string
	params       []json.RawMessage
	notification bool
}

// parseEnvelope implements dispatch step 1-3: parse JSON, validate the
// presence and kind of id/method/params, and detect notifications.
func parseEnvelope(raw []byte) (envelope, *Error) {
	var fields map[string]json.RawMessage
	dec := wireJSON.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return envelope{}, invalidRequestf("Received invalid JSON")
	}

	env := envelope{}

	idRaw, hasID := fields["id"]
	if !hasID {
		return envelope{}, invalidRequestf("Field 'id' missing in request")
	}
	var idScalar interface{}
	if err := wireJSON.Unmarshal(idRaw, &idScalar); err != nil {
		return envelope{}, invalidRequestf("Field 'id' must contain a scalar value")
	}
	switch idScalar.(type) {
	case []interface{}, map[string]interface{}:
		return envelope{}, invalidRequestf("Field 'id' must contain a scalar value")
	}
	env.id = rawOrNull(idRaw)
	env.idReadable = true
	if idScalar == nil {
		env.notification = true
	}

	methodRaw, hasMethod := fields["method"]
	if !hasMethod {
		return env, invalidRequestf("Field 'method' missing in request")
	}
	var method string
	if err := wireJSON.Unmarshal(methodRaw, &method); err != nil {
		return env, invalidRequestf("Field 'method' must contain a string value")
	}
	env.method = method

	paramsRaw, hasParams := fields["params"]
	if !hasParams {
		return env, invalidRequestf("Field 'params' missing in request")
	}
	var params []json.RawMessage
	if err := wireJSON.Unmarshal(paramsRaw, &params); err != nil {
		return env, invalidRequestf("Field 'params' must contain an array")
	}
	env.params = params

	return env, nil
}

// decodeValues decodes each raw parameter into its dynamic JSON
// representation (nil, bool, json.Number, string, []interface{} or
// map[string]interface{}), preserving the int/float distinction via
// json.Number the way the validator's primitive-kind mapping requires.
func decodeValues(raw []json.RawMessage) ([]interface{}, error) {
	out := make([]interface{}, len(raw))
	for i, r := range raw {
		dec := wireJSON.NewDecoder(bytes.NewReader(r))
		dec.UseNumber()
		if err := dec.Decode(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}
