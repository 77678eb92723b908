// Package configpatch updates single fields of the gateway's JSON config
// document without disturbing anything else in it.
package configpatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrConfigIO covers reading, writing and directory creation failures.
	ErrConfigIO = errors.New("config document I/O failed")
	// ErrConfigParse means the existing document is not a JSON object.
	ErrConfigParse = errors.New("config document is malformed")
)

// Document is a JSON object whose values are kept as raw JSON, so values
// that are never touched are written back exactly as they were parsed.
type Document map[string]json.RawMessage

// ParseDocument parses data as a JSON object. Empty input is an empty document.
func ParseDocument(data []byte) (Document, error) {
	doc := Document{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	if doc == nil {
		// The document was the literal null.
		return Document{}, fmt.Errorf("%w: top level is not an object", ErrConfigParse)
	}
	return doc, nil
}

// Get returns the raw value at path.
func (d Document) Get(path ...string) (json.RawMessage, bool) {
	if len(path) == 0 {
		return nil, false
	}
	raw, ok := d[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return raw, true
	}
	child, ok := asObject(raw)
	if !ok {
		return nil, false
	}
	return child.Get(path[1:]...)
}

// GetString returns the string at path.
func (d Document) GetString(path ...string) (string, bool) {
	raw, ok := d.Get(path...)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Set stores value at path, creating intermediate objects. An intermediate
// value that is not an object is replaced by one.
func (d Document) Set(path []string, value any) error {
	if len(path) == 0 {
		return errors.New("empty field path")
	}
	key := path[0]
	if key == "" {
		return errors.New("empty key in field path")
	}

	if len(path) == 1 {
		raw, err := encode(value, false)
		if err != nil {
			return fmt.Errorf("failed to encode value for %q: %w", key, err)
		}
		d[key] = raw
		return nil
	}

	child, ok := asObject(d[key])
	if !ok {
		child = Document{}
	}
	if err := child.Set(path[1:], value); err != nil {
		return err
	}
	raw, err := encode(child, false)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	d[key] = raw
	return nil
}

// Marshal encodes the document with keys sorted at every depth and
// two-space indentation. Scalar values keep their original text.
func (d Document) Marshal() ([]byte, error) {
	sorted := make(Document, len(d))
	for k, v := range d {
		sorted[k] = canonical(v)
	}
	data, err := encode(sorted, true)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// encode is json.Marshal without HTML escaping, so strings holding &, < or >
// are written back as they were read.
func encode(v any, indent bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// canonical re-encodes nested objects and arrays so object keys are sorted.
func canonical(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return raw
	}
	switch trimmed[0] {
	case '{':
		obj, ok := asObject(trimmed)
		if !ok {
			return raw
		}
		for k, v := range obj {
			obj[k] = canonical(v)
		}
		if out, err := encode(obj, false); err == nil {
			return out
		}
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return raw
		}
		for i, v := range arr {
			arr[i] = canonical(v)
		}
		if out, err := encode(arr, false); err == nil {
			return out
		}
	}
	return raw
}

func asObject(raw json.RawMessage) (Document, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var obj Document
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
