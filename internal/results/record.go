package results

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Field is a single named column value. Value is a string, an int or a bool.
type Field struct {
	Name  string
	Value any
}

// Record is one row of the artifact. Fields keep the column order of the
// source, which also drives JSON and CSV output.
type Record struct {
	fields []Field
}

func NewRecord(fields ...Field) Record {
	return Record{fields: append([]Field(nil), fields...)}
}

func (r Record) Len() int {
	return len(r.fields)
}

func (r Record) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Name
	}
	return keys
}

func (r Record) Get(name string) (any, bool) {
	for _, f := range r.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Int returns the integer value of name, zero when it is missing or was not
// numeric.
func (r Record) Int(name string) int {
	v, _ := r.Get(name)
	i, _ := v.(int)
	return i
}

func (r Record) Bool(name string) bool {
	v, _ := r.Get(name)
	b, _ := v.(bool)
	return b
}

// String formats the value of name the way it is written to CSV.
func (r Record) String(name string) string {
	v, ok := r.Get(name)
	if !ok {
		return ""
	}
	return format(v)
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// MarshalJSON encodes the record as an object with keys in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
