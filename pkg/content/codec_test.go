package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

func TestBase64RoundTrip(t *testing.T) {
	raw := []byte(`{"key":"123456789","object_type":"Person","name":"Ada ✓"}`)

	decoded, err := DecodeBase64(EncodeBase64(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
}

func TestDecodeBase64_Wrapped(t *testing.T) {
	// GitHub wraps content at 60 columns
	encoded := "eyJrZXkiOiAiYWJjIn0=\n"
	decoded, err := DecodeBase64(encoded)
	require.NoError(t, err)
	assert.Equal(t, `{"key": "abc"}`, string(decoded))
}

func TestDecodeBase64_Invalid(t *testing.T) {
	_, err := DecodeBase64("!!not base64!!")
	assert.ErrorIs(t, err, types.ErrMalformedPayload)
}

func TestParseObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ObjectFields
		wantErr bool
	}{
		{name: "both fields", raw: `{"key":"k1","object_type":"Person","x":1}`, want: ObjectFields{Key: "k1", ObjectType: "Person"}},
		{name: "key only", raw: `{"key":"k1"}`, want: ObjectFields{Key: "k1"}},
		{name: "no fields", raw: `{"name":"n"}`, want: ObjectFields{}},
		{name: "non-string key", raw: `{"key":42,"object_type":"Place"}`, want: ObjectFields{ObjectType: "Place"}},
		{name: "array", raw: `[1,2,3]`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "invalid json", raw: `{"key":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseObject([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, types.ErrMalformedPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalObject(t *testing.T) {
	data, err := MarshalObject(map[string]string{"key": "a<b"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"key\": \"a<b\"\n}\n", string(data))
}
