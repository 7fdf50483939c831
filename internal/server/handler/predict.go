package handler

import (
	"encoding/json"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/engine"
	"github.com/Skufu/DianaV2/internal/infra/auth"
)

type PredictHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

func NewPredictHandler(e *engine.Engine, logger *zap.Logger) *PredictHandler {
	return &PredictHandler{engine: e, logger: logger.Named("predict-api")}
}

// clientID определяет вызывающую сторону для rate limiting: API-ключ,
// иначе IP клиента. Пациент здесь ни при чем — лимит на интегратора.
func clientID(r *http.Request) string {
	if key := r.Header.Get(auth.APIKeyHeader); key != "" {
		return key
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// Predict обрабатывает один прогноз.
// POST /v1/predict
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var req engine.PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	pred, err := h.engine.Predict(r.Context(), clientID(r), req)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

// PredictBatch обрабатывает выгрузку до MaxBatchSize пациентов за раз.
// POST /v1/predict/batch
func (h *PredictHandler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Requests []engine.PredictRequest `json:"requests"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	items, err := h.engine.PredictBatch(r.Context(), clientID(r), req.Requests)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(items),
		"results": items,
	})
}

// Models возвращает сконфигурированные модели и их контракты фич.
// GET /v1/models
func (h *PredictHandler) Models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Models())
}
