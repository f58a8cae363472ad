package aggregate

import "context"

type ctxKey int

const (
	metaKey ctxKey = iota
	causationKey
	correlationKey
)

// CtxWithMeta returns context carrying meta which will be stored
// with every event saved using the context
func CtxWithMeta(ctx context.Context, meta map[string]string) context.Context {
	return context.WithValue(ctx, metaKey, meta)
}

// CtxWithCausationID returns context carrying causation event id
func CtxWithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationKey, id)
}

// CtxWithCorrelationID returns context carrying correlation event id
func CtxWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

func metaFrom(ctx context.Context) map[string]string {
	meta, _ := ctx.Value(metaKey).(map[string]string)

	return meta
}

func causationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(causationKey).(string)

	return id
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)

	return id
}
