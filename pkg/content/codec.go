package content

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

// EncodeBase64 produces the transport encoding the contents API expects
func EncodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeBase64 accepts both wrapped (newline every 60 chars) and unwrapped input
func DecodeBase64(encoded string) ([]byte, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(encoded)
	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", types.ErrMalformedPayload, err)
	}
	return raw, nil
}

// ObjectFields are the two fields the index extracts from an object blob
type ObjectFields struct {
	Key        string
	ObjectType string
}

// ParseObject extracts key and object_type from a JSON object. Content
// that is not a JSON object fails with types.ErrMalformedPayload. Fields
// that are absent or not strings come back empty.
func ParseObject(raw []byte) (ObjectFields, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ObjectFields{}, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	if obj == nil {
		return ObjectFields{}, fmt.Errorf("%w: not a JSON object", types.ErrMalformedPayload)
	}

	return ObjectFields{
		Key:        stringField(obj, "key"),
		ObjectType: stringField(obj, "object_type"),
	}, nil
}

func stringField(obj map[string]json.RawMessage, name string) string {
	raw, ok := obj[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// MarshalObject serializes an object payload with two-space indentation
// and a trailing newline, the layout used for every blob the gateway writes.
func MarshalObject(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
