package middleware

import (
	"net/http"
	"runtime/debug"

	"alphaedge/pkg/utils"
)

// Recovery перехватывает panic в HTTP handlers.
//
// Паника одного запроса не должна ронять процесс: логируем
// stack trace и отвечаем 500, сервер продолжает обслуживать
// остальные запросы.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				utils.Error("handler panic recovered",
					utils.String("method", r.Method),
					utils.String("path", r.URL.Path),
					utils.Any("panic", err),
					utils.String("stack", string(debug.Stack())),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
