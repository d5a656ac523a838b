package messaging

import (
	"bytes"
	"fmt"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/goccy/go-json"
)

// objectFields holds the members of a JSON object in the order they appeared on the wire.
type objectFields = orderedmap.OrderedMap[string, json.RawMessage]

// decodeObject splits a JSON object into its members without decoding their values.
func decodeObject(data []byte) (*objectFields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	token, err := dec.Token()
	if err != nil {
		return nil, err
	}

	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected a JSON object, found %v", token)
	}

	fields := newObjectFields()
	for dec.More() {
		token, err = dec.Token()
		if err != nil {
			return nil, err
		}

		key, ok := token.(string)
		if !ok {
			return nil, fmt.Errorf("expected an object key, found %v", token)
		}

		var value json.RawMessage
		if err = dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("field \"%s\": %w", key, err)
		}

		fields.Set(key, value)
	}

	token, err = dec.Token()
	if err != nil {
		return nil, err
	}

	if delim, ok := token.(json.Delim); !ok || delim != '}' {
		return nil, fmt.Errorf("unterminated JSON object")
	}

	return fields, nil
}

func newObjectFields() *objectFields {
	return orderedmap.NewOrderedMap[string, json.RawMessage]()
}

func cloneFields(src *objectFields) *objectFields {
	if src == nil {
		return nil
	}

	dst := newObjectFields()
	for el := src.Front(); el != nil; el = el.Next() {
		dst.Set(el.Key, append(json.RawMessage(nil), el.Value...))
	}

	return dst
}

// objectWriter writes the members of a JSON object one at a time. Values are copied verbatim.
type objectWriter struct {
	buf     bytes.Buffer
	members int
	written map[string]struct{}
}

func newObjectWriter() *objectWriter {
	return &objectWriter{written: make(map[string]struct{})}
}

func (w *objectWriter) has(key string) bool {
	_, ok := w.written[key]
	return ok
}

func (w *objectWriter) write(key string, value json.RawMessage) error {
	encodedKey, err := json.MarshalNoEscape(key)
	if err != nil {
		return err
	}

	if w.members == 0 {
		w.buf.WriteByte('{')
	} else {
		w.buf.WriteByte(',')
	}

	w.buf.Write(encodedKey)
	w.buf.WriteByte(':')
	w.buf.Write(value)

	w.members++
	w.written[key] = struct{}{}
	return nil
}

// writeString writes a string member. If raw decodes to the same value, raw is written instead so that
// the original escaping survives.
func (w *objectWriter) writeString(key string, value string, raw json.RawMessage) error {
	if len(raw) > 0 {
		var decoded string
		if err := json.Unmarshal(raw, &decoded); err == nil && decoded == value {
			return w.write(key, raw)
		}
	}

	encoded, err := json.MarshalNoEscape(value)
	if err != nil {
		return fmt.Errorf("field \"%s\": %w", key, err)
	}

	return w.write(key, encoded)
}

func (w *objectWriter) bytes() []byte {
	if w.members == 0 {
		return []byte("{}")
	}

	w.buf.WriteByte('}')
	return w.buf.Bytes()
}
