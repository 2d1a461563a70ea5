// Package record provides the open attribute bag shared by the roster, the
// active slot and the history. Records keep the key order they arrived with
// so display columns render the way the uploaded sheet laid them out.
package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// IDField is the attribute carrying a record's generated identifier.
const IDField = "id"

// ErrNotObject is returned when a record is decoded from anything but a JSON object.
var ErrNotObject = errors.New("record: not a JSON object")

// Record is an ordered mapping of attribute name to value. The zero value is
// an empty record ready to use.
type Record struct {
	keys   []string
	values map[string]any
}

// New returns an empty record.
func New() Record {
	return Record{values: make(map[string]any)}
}

// Of builds a record from alternating key/value arguments. It panics on a
// non-string key or an odd argument count, so it is meant for literals.
func Of(kv ...any) Record {
	if len(kv)%2 != 0 {
		panic("record.Of: odd argument count")
	}
	r := New()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("record.Of: key %v is not a string", kv[i]))
		}
		r.Set(key, kv[i+1])
	}
	return r
}

// NewID returns a freshly generated unique identifier.
func NewID() string {
	return uuid.NewString()
}

// Len returns the number of attributes.
func (r Record) Len() int { return len(r.keys) }

// IsEmpty reports whether the record has no attributes.
func (r Record) IsEmpty() bool { return len(r.keys) == 0 }

// Keys returns the attribute names in insertion order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Get returns the raw value stored under key.
func (r Record) Get(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether key is present, regardless of its value.
func (r Record) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// String returns the textual form of the value under key, or "" when the key
// is absent or null.
func (r Record) String(key string) string {
	v, ok := r.values[key]
	if !ok {
		return ""
	}
	return scalarString(v)
}

// ID returns the record identifier, or "" if it has none.
func (r Record) ID() string {
	return r.String(IDField)
}

// Set stores value under key. A new key is appended; an existing key keeps
// its position.
func (r *Record) Set(key string, value any) {
	if r.values == nil {
		r.values = make(map[string]any)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Delete removes key if present.
func (r *Record) Delete(key string) {
	if _, ok := r.values[key]; !ok {
		return
	}
	delete(r.values, key)
	for i, k := range r.keys {
		if k == key {
			r.keys = append(r.keys[:i:i], r.keys[i+1:]...)
			break
		}
	}
}

// Take removes key and returns its textual value.
func (r *Record) Take(key string) string {
	v := r.String(key)
	r.Delete(key)
	return v
}

// Rename moves the value under from to to, keeping from's position. If to
// already exists it is dropped in favor of the renamed value.
func (r *Record) Rename(from, to string) {
	v, ok := r.values[from]
	if !ok || from == to {
		return
	}
	r.Delete(to)
	for i, k := range r.keys {
		if k == from {
			r.keys[i] = to
			break
		}
	}
	delete(r.values, from)
	r.values[to] = v
}

// EnsureID assigns a generated id when the record has none and reports
// whether it did.
func (r *Record) EnsureID(gen func() string) bool {
	if r.ID() != "" {
		return false
	}
	if gen == nil {
		gen = NewID
	}
	r.Set(IDField, gen())
	return true
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := Record{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		if raw, ok := v.(json.RawMessage); ok {
			v = append(json.RawMessage(nil), raw...)
		}
		out.values[k] = v
	}
	return out
}

// Merge returns a copy of r with every attribute of patch written over it.
// Attributes only present in r survive.
func (r Record) Merge(patch Record) Record {
	out := r.Clone()
	for _, k := range patch.keys {
		out.Set(k, patch.values[k])
	}
	return out
}

// Equal compares attribute sets by textual value. Key order is ignored.
func (r Record) Equal(o Record) bool {
	if len(r.keys) != len(o.keys) {
		return false
	}
	for k, v := range r.values {
		ov, ok := o.values[k]
		if !ok || scalarString(v) != scalarString(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON writes the attributes as a JSON object in insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, fmt.Errorf("record: encode %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping its key order. A JSON null
// leaves the record untouched.
func (r *Record) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("record: invalid JSON")
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return ErrNotObject
	}
	out := New()
	res.ForEach(func(key, value gjson.Result) bool {
		out.Set(key.String(), decodeValue(value))
		return true
	})
	*r = out
	return nil
}

// ParseList decodes a JSON array of objects.
func ParseList(data []byte) ([]Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("record: invalid JSON")
	}
	res := gjson.ParseBytes(data)
	if !res.IsArray() {
		return nil, fmt.Errorf("record: expected a JSON array")
	}
	var (
		out []Record
		err error
	)
	res.ForEach(func(_, value gjson.Result) bool {
		var rec Record
		if e := rec.UnmarshalJSON([]byte(value.Raw)); e != nil {
			err = fmt.Errorf("record: element %d: %w", len(out), e)
			return false
		}
		out = append(out, rec)
		return true
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

func decodeValue(v gjson.Result) any {
	switch v.Type {
	case gjson.String:
		return v.String()
	case gjson.Number:
		return json.Number(v.Raw)
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Null:
		return nil
	default:
		return json.RawMessage(v.Raw)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.RawMessage:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}
