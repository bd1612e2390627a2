package audit

import "context"

type ctxKey string

const actorKey ctxKey = "audit_actor"

// WithActor кладет в контекст того, кто инициировал действие.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFrom достает инициатора действия; пусто, если не задан.
func ActorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey).(string); ok {
		return v
	}
	return ""
}
