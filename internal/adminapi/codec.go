package adminapi

import "encoding/json"

// CodecName is the grpc content-subtype this codec registers under. The
// package's own Client and NewServer do not select it by subtype: they
// install it with grpc.ForceCodec and grpc.ForceServerCodec.
const CodecName = "json"

// jsonCodec implements grpc's encoding.Codec by marshaling with
// encoding/json instead of the default proto wire format, the documented
// extension point used to avoid a protoc step.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}
