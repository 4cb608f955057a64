// SPDX-FileCopyrightText: 2021 The Go Language Server Authors
// SPDX-License-Identifier: BSD-3-Clause

package reflectrpc

// The three reserved introspection methods every service exposes. Their
// result shapes are part of the wire contract. rpcclient calls them like
// any other method through Client.Call; it has no dedicated decoder that
// turns their results back into a Registry-shaped view.

type serviceDescriptionWire struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	Version      string                 `json:"version"`
	CustomFields map[string]interface{} `json:"custom_fields"`
}

func (d *Dispatcher) describeService() serviceDescriptionWire {
	sd := d.reg.ServiceDescriptor()
	fields := sd.CustomFields
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return serviceDescriptionWire{
		Name:         sd.Name,
		Description:  sd.Description,
		Version:      sd.Version,
		CustomFields: fields,
	}
}

type paramWire struct {
	Name        string  `json:"name"`
	Type        TypeTag `json:"type"`
	Description string  `json:"description"`
}

type functionWire struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	ResultType  TypeTag     `json:"result_type"`
	ResultDesc  string      `json:"result_desc"`
	Params      []paramWire `json:"params"`
}

func (d *Dispatcher) describeFunctions() []functionWire {
	fns := d.reg.Functions()
	out := make([]functionWire, 0, len(fns))
	for _, f := range fns {
		params := make([]paramWire, 0, len(f.Params))
		for _, p := range f.Params {
			params = append(params, paramWire{Name: p.Name, Type: p.Type, Description: p.Description})
		}
		out = append(out, functionWire{
			Name:        f.Name,
			Description: f.Description,
			ResultType:  f.ResultType,
			ResultDesc:  f.ResultDescription,
			Params:      params,
		})
	}
	return out
}

type enumValueWire struct {
	Name        string `json:"name"`
	IntValue    int    `json:"intvalue"`
	Description string `json:"description"`
}

type fieldWire struct {
	Name        string  `json:"name"`
	Type        TypeTag `json:"type"`
	Description string  `json:"description"`
}

// customTypeWire serializes either an EnumType or a RecordType. Values and
// Fields are mutually exclusive depending on Type ("enum" or "hash");
// omitempty keeps the unused side out of the wire object entirely, which
// is what a client switching on "type" expects.
type customTypeWire struct {
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	Values      []enumValueWire `json:"values,omitempty"`
	Fields      []fieldWire     `json:"fields,omitempty"`
}

func (d *Dispatcher) describeCustomTypes() []customTypeWire {
	types := d.reg.CustomTypes()
	out := make([]customTypeWire, 0, len(types))
	for _, t := range types {
		switch ct := t.(type) {
		case *EnumType:
			values := ct.Values()
			wire := make([]enumValueWire, 0, len(values))
			for _, v := range values {
				wire = append(wire, enumValueWire{Name: v.Name, IntValue: v.Value, Description: v.Description})
			}
			out = append(out, customTypeWire{Name: ct.TypeName(), Type: "enum", Description: ct.description, Values: wire})
		case *RecordType:
			fields := ct.Fields()
			wire := make([]fieldWire, 0, len(fields))
			for _, f := range fields {
				wire = append(wire, fieldWire{Name: f.Name, Type: f.Type, Description: f.Description})
			}
			out = append(out, customTypeWire{Name: ct.TypeName(), Type: "hash", Description: ct.description, Fields: wire})
		}
	}
	return out
}
