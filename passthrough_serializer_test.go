package kafkaevents_test

import (
	"testing"

	"github.com/aneshas/kafkaevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPassthroughSerializerKeepsBytesAndType(t *testing.T) {
	rev := "3"

	in := &kafkaevents.SerializedPayload{
		Data: []byte(`{"UserID":"user-1"}`),
		Type: kafkaevents.SerializedType{Name: "SomeEvent", Revision: &rev},
	}

	var ser kafkaevents.PassthroughSerializer

	payload, err := ser.Deserialize(in)
	require.NoError(t, err)
	assert.Equal(t, kafkaevents.RawPayload(*in), payload)

	out, err := ser.Serialize(payload)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	raw := payload.(kafkaevents.RawPayload)

	out, err = ser.Serialize(&raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestPassthroughSerializerRejectsTypedPayloads(t *testing.T) {
	_, err := kafkaevents.PassthroughSerializer{}.Serialize(SomeEvent{})

	assert.Error(t, err)
}

func TestShouldRelayRecordWithoutKnowingPayloadType(t *testing.T) {
	typed := converter(t)

	relaying, err := kafkaevents.NewConverter(kafkaevents.ConverterConfig{
		Serializer: kafkaevents.PassthroughSerializer{},
	})
	require.NoError(t, err)

	want := domainMessage()
	want.Payload = SomeEvent{UserID: "user-1"}

	raw, ok, err := relaying.FromRecord(toRecord(t, typed, want))
	require.NoError(t, err)
	require.True(t, ok)

	got, ok, err := typed.FromRecord(toRecord(t, relaying, raw))
	require.NoError(t, err)
	require.True(t, ok)

	assertMessage(t, want, got)
}
