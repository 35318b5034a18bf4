package authctx

import (
	"context"
)

type ctxKeySessionID struct{}

// WithSessionID сохраняет session_id пользователя в контексте
// Кладёт HTTP middleware, читает клиент отправки заказов
func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, ctxKeySessionID{}, sid)
}

// SessionIDFromContext возвращает session_id из контекста, если он непустой
func SessionIDFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(ctxKeySessionID{}).(string)
	return sid, ok && sid != ""
}
