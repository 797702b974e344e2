// Package jsonvalue holds arbitrary JSON values that are stored and returned
// without interpretation.
//
// Value is a sealed union: Null, Bool, Number, String, Array and Object.
// Object keeps its members in document order and Number keeps its literal
// text, so a value decoded with Parse marshals back to equivalent JSON.
package jsonvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Value is implemented only by the types in this package.
type Value interface {
	jsonValue()
}

// Null is the JSON null literal.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number kept as its literal text.
type Number string

// String is a JSON string.
type String string

// Array is an ordered JSON array.
type Array []Value

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value Value
}

// Object is a JSON object whose members stay in document order.
type Object []Member

func (Null) jsonValue()   {}
func (Bool) jsonValue()   {}
func (Number) jsonValue() {}
func (String) jsonValue() {}
func (Array) jsonValue()  {}
func (Object) jsonValue() {}

// Parse decodes a single JSON document.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decode(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("jsonvalue: trailing data after value")
	}
	return v, nil
}

func decode(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("jsonvalue: %w", err)
	}
	switch t := tok.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			arr := Array{}
			for dec.More() {
				elem, err := decode(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, elem)
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("jsonvalue: %w", err)
			}
			return arr, nil
		case '{':
			obj := Object{}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("jsonvalue: %w", err)
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("jsonvalue: object key is %T", keyTok)
				}
				val, err := decode(dec)
				if err != nil {
					return nil, fmt.Errorf("jsonvalue: key %q: %w", key, err)
				}
				obj = append(obj, Member{Key: key, Value: val})
			}
			if _, err := dec.Token(); err != nil {
				return nil, fmt.Errorf("jsonvalue: %w", err)
			}
			return obj, nil
		}
	}
	return nil, fmt.Errorf("jsonvalue: unexpected token %v", tok)
}

// Marshal encodes v as compact JSON. A nil Value encodes as null.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v Value) error {
	switch t := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		if !json.Valid([]byte(t)) {
			return fmt.Errorf("jsonvalue: invalid number %q", string(t))
		}
		buf.WriteString(string(t))
	case String:
		b, err := json.Marshal(string(t))
		if err != nil {
			return err
		}
		buf.Write(b)
	case Array:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, m := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteByte(':')
			if err := encode(buf, m.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("jsonvalue: unsupported type %T", v)
	}
	return nil
}

// Doc carries a Value inside structs that go through encoding/json.
type Doc struct {
	Value Value
}

// NewDoc wraps v.
func NewDoc(v Value) *Doc {
	return &Doc{Value: v}
}

// MarshalJSON implements json.Marshaler.
func (d Doc) MarshalJSON() ([]byte, error) {
	return Marshal(d.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Doc) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	d.Value = v
	return nil
}
