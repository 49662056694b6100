package xloop

import (
	"context"
	"encoding/json"
)

// JSONCodec is the default JSON implementation.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) Name() string                    { return "json" }

// Decode unmarshals ev.Payload into T using a Codec found in ctx.
// Falls back to JSON if none was injected.
func Decode[T any](ctx context.Context, ev *Event) (T, error) {
	c, ok := CodecFromContext(ctx)
	if !ok || c == nil {
		c = JSONCodec{}
	}
	return DecodeCodec[T](c, ev)
}

// DecodeCodec unmarshals an event payload into a typed value using the provided codec.
func DecodeCodec[T any](c Codec, ev *Event) (T, error) {
	var v T
	if err := c.Unmarshal(ev.Payload, &v); err != nil {
		return v, err
	}
	return v, nil
}
