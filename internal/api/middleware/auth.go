package middleware

import (
	"net/http"

	"github.com/gorilla/mux"

	"alphaedge/pkg/crypto"
	"alphaedge/pkg/utils"
)

// apiKeyHeader - заголовок с операторским API-ключом
const apiKeyHeader = "X-API-Key"

// APIKeyAuth защищает мутирующие endpoints операторским API-ключом.
//
// В конфигурации хранится только bcrypt-хеш ключа; сам ключ никогда не
// попадает на диск. Пустой хеш отключает проверку (локальное развертывание).
//
// Использование:
//
//	signals.Use(middleware.APIKeyAuth(cfg.Security.APIKeyHash))
func APIKeyAuth(apiKeyHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKeyHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := crypto.VerifySecret(key, apiKeyHash); err != nil {
				utils.Warn("api key rejected",
					utils.String("path", r.URL.Path),
					utils.String("remote", r.RemoteAddr))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
