package commsutil

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/morezero/subject-router/pkg/handler"
)

var jsonAPI = sonic.ConfigStd

// EncodePayload serializes a value to JSON bytes.
func EncodePayload(v any) ([]byte, error) {
	return jsonAPI.Marshal(v)
}

// DecodePayload deserializes JSON bytes into the given target.
func DecodePayload(data []byte, v any) error {
	return jsonAPI.Unmarshal(data, v)
}

// ErrNotObject is wrapped by DecodeError when the body is valid JSON but not an object.
var ErrNotObject = errors.New("request body must be a JSON object")

// DecodeError reports a payload that cannot be decoded into its declared type.
type DecodeError struct {
	TypeID string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode payload as %s: %v", e.TypeID, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TypeResolver produces fresh request objects by type identifier.
type TypeResolver interface {
	NewDTO(typeID string) (any, bool)
}

// JSONCodec decodes request payloads into registered types and encodes result
// envelopes in their wire form.
type JSONCodec struct {
	types TypeResolver
}

// NewJSONCodec creates a JSONCodec resolving types through types.
func NewJSONCodec(types TypeResolver) *JSONCodec {
	return &JSONCodec{types: types}
}

// Decode unmarshals data into a new instance of typeID.
func (c *JSONCodec) Decode(data []byte, typeID string) (any, error) {
	dto, ok := c.types.NewDTO(typeID)
	if !ok {
		return nil, &DecodeError{TypeID: typeID, Err: errors.New("unknown request type")}
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		return nil, &DecodeError{TypeID: typeID, Err: ErrNotObject}
	}
	if err := DecodePayload(trimmed, dto); err != nil {
		return nil, &DecodeError{TypeID: typeID, Err: err}
	}
	return dto, nil
}

// Encode serializes the envelope.
func (c *JSONCodec) Encode(result handler.ResultEnvelope) ([]byte, error) {
	return EncodePayload(result.Wire())
}
