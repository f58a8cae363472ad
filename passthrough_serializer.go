package kafkaevents

import "fmt"

// RawPayload is a payload kept in its serialized form
type RawPayload SerializedPayload

// PassthroughSerializer moves payloads between storage and kafka without
// knowing their go types. Deserialize yields RawPayload and Serialize
// accepts only RawPayload (or *RawPayload), returning its bytes and type
// unchanged
type PassthroughSerializer struct{}

var _ Serializer = PassthroughSerializer{}

// Serialize returns raw payload as is
func (PassthroughSerializer) Serialize(payload any) (*SerializedPayload, error) {
	switch p := payload.(type) {
	case RawPayload:
		sp := SerializedPayload(p)

		return &sp, nil
	case *RawPayload:
		if p == nil {
			return nil, fmt.Errorf("nil payload cannot be serialized")
		}

		sp := SerializedPayload(*p)

		return &sp, nil
	default:
		return nil, fmt.Errorf("passthrough serializer cannot serialize %T", payload)
	}
}

// Deserialize wraps serialized payload into RawPayload
func (PassthroughSerializer) Deserialize(p *SerializedPayload) (any, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrDeserialization)
	}

	return RawPayload(*p), nil
}
