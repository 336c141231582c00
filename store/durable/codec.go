package durable

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Codec converts values to and from their persisted byte form.
// A Codec is supplied per cache so the serialisation contract is explicit.
type Codec[V any] interface {
	Marshal(v V) ([]byte, error)
	Unmarshal(data []byte) (V, error)
}

// StringCodec stores strings as their UTF-8 bytes.
type StringCodec struct{}

func (StringCodec) Marshal(v string) ([]byte, error) { return []byte(v), nil }

func (StringCodec) Unmarshal(data []byte) (string, error) { return string(data), nil }

// BytesCodec stores byte slices unchanged.
type BytesCodec struct{}

func (BytesCodec) Marshal(v []byte) ([]byte, error) { return bytes.Clone(v), nil }

func (BytesCodec) Unmarshal(data []byte) ([]byte, error) { return bytes.Clone(data), nil }

// JSONCodec stores values as JSON.
type JSONCodec[V any] struct{}

func (JSONCodec[V]) Marshal(v V) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec[V]) Unmarshal(data []byte) (V, error) {
	var v V
	err := json.Unmarshal(data, &v)
	return v, err
}

// CodecFuncs adapts a pair of functions to Codec.
type CodecFuncs[V any] struct {
	MarshalFunc   func(V) ([]byte, error)
	UnmarshalFunc func([]byte) (V, error)
}

var errNilCodecFunc = errors.New("codec function is nil")

func (c CodecFuncs[V]) Marshal(v V) ([]byte, error) {
	if c.MarshalFunc == nil {
		return nil, errNilCodecFunc
	}
	return c.MarshalFunc(v)
}

func (c CodecFuncs[V]) Unmarshal(data []byte) (V, error) {
	if c.UnmarshalFunc == nil {
		var zero V
		return zero, errNilCodecFunc
	}
	return c.UnmarshalFunc(data)
}

func (c CodecFuncs[V]) complete() bool {
	return c.MarshalFunc != nil && c.UnmarshalFunc != nil
}
