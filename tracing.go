package kafkaevents

import (
	"context"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const tracerName = "github.com/aneshas/kafkaevents"

// InjectTraceHeaders writes W3C trace context of ctx to record headers
func InjectTraceHeaders(ctx context.Context, rec *kafka.Message) {
	carrier := headerCarrier{headers: (*Headers)(&rec.Headers)}

	otel.GetTextMapPropagator().Inject(ctx, carrier)
}

// ExtractTraceContext returns ctx enriched with the trace context carried by the record
func ExtractTraceContext(ctx context.Context, rec kafka.Message) context.Context {
	headers := Headers(rec.Headers)

	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier{headers: &headers})
}

type headerCarrier struct {
	headers *Headers
}

func (c headerCarrier) Get(key string) string {
	v, _ := c.headers.ReadString(key)

	return v
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))

	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}

	return keys
}

func (c headerCarrier) Set(key string, value string) {
	c.headers.WriteString(key, value)
}

var _ propagation.TextMapCarrier = headerCarrier{}
