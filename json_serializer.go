package kafkaevents

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// RevisionResolver resolves the schema revision of a payload type
// nil means that payloads of the type carry no revision
type RevisionResolver func(reflect.Type) *string

// FixedRevision resolves the same revision for every payload type
func FixedRevision(rev string) RevisionResolver {
	return func(reflect.Type) *string {
		r := rev

		return &r
	}
}

// NewJSONSerializer constructs json serializer able to deserialize
// the provided payload types (register either values or pointers,
// deserialized payloads keep the registered form)
func NewJSONSerializer(payloads ...any) *JSONSerializer {
	s := JSONSerializer{
		types: make(map[string]registered),
	}

	for _, p := range payloads {
		t := reflect.TypeOf(p)

		ptr := t.Kind() == reflect.Pointer
		if ptr {
			t = t.Elem()
		}

		s.types[t.Name()] = registered{t: t, ptr: ptr}
	}

	return &s
}

// JSONSerializer provides default Serializer implementation
// It will marshal and unmarshal payloads to/from json and use the go type
// name as serialized type name
type JSONSerializer struct {
	types     map[string]registered
	revisions RevisionResolver
}

type registered struct {
	t   reflect.Type
	ptr bool
}

// WithRevisions configures a revision resolver. It should be called
// before the serializer is shared between goroutines
func (s *JSONSerializer) WithRevisions(r RevisionResolver) *JSONSerializer {
	s.revisions = r

	return s
}

// Serialize marshals payload to it's json representation
func (s *JSONSerializer) Serialize(payload any) (*SerializedPayload, error) {
	if payload == nil {
		return nil, fmt.Errorf("nil payload cannot be serialized")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	t := reflect.TypeOf(payload)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	st := SerializedType{
		Name: t.Name(),
	}

	if s.revisions != nil {
		st.Revision = s.revisions(t)
	}

	return &SerializedPayload{
		Data: data,
		Type: st,
	}, nil
}

// Deserialize unmarshals payload to it's registered go type
func (s *JSONSerializer) Deserialize(p *SerializedPayload) (any, error) {
	reg, ok := s.types[p.Type.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrDeserialization, ErrPayloadNotRegistered, p.Type.Name)
	}

	v := reflect.New(reg.t)

	err := json.Unmarshal(p.Data, v.Interface())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeserialization, p.Type.Name, err)
	}

	if reg.ptr {
		return v.Interface(), nil
	}

	return v.Elem().Interface(), nil
}
