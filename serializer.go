package kafkaevents

import "errors"

var (
	// ErrDeserialization indicates that payload bytes do not match the declared type
	ErrDeserialization = errors.New("payload deserialization failed")

	// ErrPayloadNotRegistered indicates that the declared payload type is unknown
	// to the serializer. It is always reported together with ErrDeserialization
	ErrPayloadNotRegistered = errors.New("payload type not registered")
)

// SerializedType describes a serialized payload
// Revision is nil when the payload carries no schema revision
type SerializedType struct {
	Name     string
	Revision *string
}

// SerializedPayload represents payload bytes produced by a specific serializer
type SerializedPayload struct {
	Data []byte
	Type SerializedType
}

// Serializer is used by the converter in order to turn payloads into bytes
// and back. Implementations must be safe for concurrent use
type Serializer interface {
	Serialize(payload any) (*SerializedPayload, error)
	Deserialize(*SerializedPayload) (any, error)
}
