package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"herb-trace/internal/platform/logger"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Recover reemplaza a chimw.Recoverer: responde con el envelope JSON
// y loguea el panic con el request id.
func Recover(log logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error("panic recovered", map[string]any{
					"requestId": chimw.GetReqID(r.Context()),
					"panic":     fmt.Sprint(rec),
					"stack":     string(debug.Stack()),
				})
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":{"message":"internal error","statusCode":500}}` + "\n"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
