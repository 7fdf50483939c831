package auth

import (
	"context"
	"crypto/subtle"
	"net/http"

	"go.uber.org/zap"
)

type ctxKey string

const operatorIDKey ctxKey = "operator_id"

// APIKeyHeader — общий секрет для predict-периметра
const APIKeyHeader = "X-API-Key"

// NewAPIKeyMiddleware закрывает predict-эндпоинты общим секретом.
// Если ключ не сконфигурирован — аутентификация пропускается (development mode).
func NewAPIKeyMiddleware(apiKey string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(APIKeyHeader)
			// Сравнение за константное время
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				logger.Warn("api key rejected", zap.String("remote", r.RemoteAddr))
				http.Error(w, "Invalid or missing API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewOperatorMiddleware закрывает операторский периметр (управление тестами,
// референсом дрифта, алертами) RS256-токеном. nil-валидатор = периметр открыт.
func NewOperatorMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v == nil {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), operatorIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OperatorID достает ID оператора из контекста (для логов мутаций)
func OperatorID(ctx context.Context) string {
	if id, ok := ctx.Value(operatorIDKey).(string); ok {
		return id
	}
	return ""
}
