package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/abtest"
	"github.com/Skufu/DianaV2/internal/domain"
)

// writeJSON сериализует ответ. Ошибка кодирования на этом этапе уже не
// исправима (заголовки ушли), поэтому только best effort.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError маппит таксономию ошибок рантайма в HTTP-статусы.
// Клиентские классы (429/400/404) отдаются как есть — их текст и есть
// инструкция к исправлению. Инфраструктурные классы (503/500) наружу
// уходят обезличенными: в цепочке причин там пути манифестов и ошибки
// хранилища, клиенту они не нужны, полный текст остается в логе.
func writeError(logger *zap.Logger, w http.ResponseWriter, err error) {
	var (
		tErr *domain.ThrottledError
		vErr *domain.ValidationError
		mErr *domain.ModelUnavailableError
	)
	switch {
	case errors.As(err, &tErr):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorBody{Error: err.Error()})
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.As(err, &mErr):
		logger.Error("model unavailable", zap.String("model", mErr.Model), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable,
			errorBody{Error: fmt.Sprintf("model %q is temporarily unavailable", mErr.Model)})
	case errors.Is(err, abtest.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		logger.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
