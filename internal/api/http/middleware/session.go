package middleware

import (
	"net/http"

	"github.com/shestoi/GoBigTech/iap/internal/authctx"
)

// SessionHeader - заголовок с session_id пользователя
const SessionHeader = "x-session-id"

// WithSessionID читает x-session-id, при отсутствии возвращает 401, иначе кладёт sid в context
func WithSessionID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := r.Header.Get(SessionHeader)
		if sid == "" {
			http.Error(w, "session_id is required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(authctx.WithSessionID(r.Context(), sid)))
	})
}
