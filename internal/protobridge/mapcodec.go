package protobridge

import "encoding/json"

// MapCodec is a test double standing in for a real protobuf codec: it
// round-trips a value tree through JSON. It is sufficient for exercising
// the SSE decode state machine (hex/base64 framing, chunk boundaries,
// dual field naming) without depending on a concrete ResponseEvent
// schema, matching spec's assumption that message encode/decode is a
// library concern handed in from outside the core.
type MapCodec struct{}

// NewMapCodec returns a ready-to-use MapCodec. messageType is accepted
// for interface conformance but ignored — the codec is schema-agnostic.
func NewMapCodec() *MapCodec {
	return &MapCodec{}
}

func (MapCodec) Encode(_ string, value map[string]any) ([]byte, error) {
	return json.Marshal(value)
}

func (MapCodec) Decode(_ string, data []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
