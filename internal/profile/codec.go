package profile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Codec converts a namespace file to and from a mapping.
type Codec interface {
	// Ext is the file extension without the dot.
	Ext() string
	// Decode parses data. Empty input decodes to an empty mapping.
	Decode(data []byte) (map[string]any, error)
	// Encode serializes the whole mapping.
	Encode(m map[string]any) ([]byte, error)
}

// Patcher is implemented by codecs that can apply individual changes to an
// existing document without re-encoding untouched content.
type Patcher interface {
	Patch(data []byte, changes []Change) ([]byte, error)
}

// Change is one queued write against a namespace.
type Change struct {
	Key    string
	Value  any
	Delete bool
}

// TOMLCodec stores namespaces as TOML documents.
type TOMLCodec struct{}

// Ext implements Codec.
func (TOMLCodec) Ext() string { return "toml" }

// Decode implements Codec.
func (TOMLCodec) Decode(data []byte) (map[string]any, error) {
	m := make(map[string]any)
	if len(bytes.TrimSpace(data)) == 0 {
		return m, nil
	}
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode implements Codec.
func (TOMLCodec) Encode(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	return toml.Marshal(m)
}

// JSONCodec stores namespaces as JSON objects.
//
// Patch edits the raw document in place, so sibling keys the running
// version does not know about survive a rewrite unchanged.
type JSONCodec struct{}

// errNotObject is returned when a JSON namespace does not hold an object.
var errNotObject = errors.New("top-level value is not an object")

// Ext implements Codec.
func (JSONCodec) Ext() string { return "json" }

// Decode implements Codec.
func (JSONCodec) Decode(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return make(map[string]any), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json")
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, errNotObject
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode implements Codec.
func (JSONCodec) Encode(m map[string]any) ([]byte, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Patch implements Patcher.
func (JSONCodec) Patch(data []byte, changes []Change) ([]byte, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, errNotObject
	}

	out := data
	for _, c := range changes {
		path := jsonPath(c.Key)
		var err error
		if c.Delete {
			out, err = sjson.DeleteBytes(out, path)
		} else {
			out, err = sjson.SetBytes(out, path, c.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("patching %q: %w", c.Key, err)
		}
	}
	return out, nil
}

// jsonPath escapes sjson wildcard characters inside each dotted segment.
func jsonPath(key string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)
	parts := strings.Split(key, ".")
	for i, p := range parts {
		parts[i] = r.Replace(p)
	}
	return strings.Join(parts, ".")
}
