package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/abtest"
	"github.com/Skufu/DianaV2/internal/domain"
	"github.com/Skufu/DianaV2/internal/infra/auth"
)

type ABTestHandler struct {
	manager *abtest.Manager
	logger  *zap.Logger
}

func NewABTestHandler(m *abtest.Manager, logger *zap.Logger) *ABTestHandler {
	return &ABTestHandler{manager: m, logger: logger.Named("abtest-api")}
}

// Create регистрирует новый A/B-тест.
// POST /v1/ab-tests
func (h *ABTestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cfg domain.ABTestConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.manager.Create(r.Context(), cfg)
	if err != nil {
		var pErr *domain.PersistenceError
		if errors.As(err, &pErr) {
			writeError(h.logger, w, err)
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	h.logger.Info("test created",
		zap.String("test", created.TestName),
		zap.String("operator", auth.OperatorID(r.Context())))
	writeJSON(w, http.StatusCreated, created)
}

// List возвращает тесты, опционально отфильтрованные по статусу.
// GET /v1/ab-tests?status=active
func (h *ABTestHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.TestStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		http.Error(w, "Invalid status filter", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, h.manager.List(status))
}

// Get возвращает конфигурацию одного теста.
// GET /v1/ab-tests/{name}
func (h *ABTestHandler) Get(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cfg, ok := h.manager.Get(name)
	if !ok {
		http.Error(w, "Test not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// UpdateStatus переводит тест между active/paused/completed.
// POST /v1/ab-tests/{name}/status
func (h *ABTestHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		Status domain.TestStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.manager.UpdateStatus(r.Context(), name, body.Status)
	if err != nil {
		switch {
		case errors.Is(err, abtest.ErrNotFound):
			writeError(h.logger, w, err)
		default:
			var pErr *domain.PersistenceError
			if errors.As(err, &pErr) {
				writeError(h.logger, w, err)
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		}
		return
	}

	h.logger.Info("test status changed",
		zap.String("test", name),
		zap.String("status", string(body.Status)),
		zap.String("operator", auth.OperatorID(r.Context())))
	writeJSON(w, http.StatusOK, updated)
}

// Delete удаляет тест. ?purge=true дополнительно вычищает его записи
// из лога прогнозов.
// DELETE /v1/ab-tests/{name}
func (h *ABTestHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	purge := r.URL.Query().Get("purge") == "true"

	if err := h.manager.Delete(r.Context(), name, purge); err != nil {
		writeError(h.logger, w, err)
		return
	}

	h.logger.Info("test deleted",
		zap.String("test", name),
		zap.Bool("purge", purge),
		zap.String("operator", auth.OperatorID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// Results строит сравнение baseline против challenger.
// GET /v1/ab-tests/{name}/results
func (h *ABTestHandler) Results(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	cmp, err := h.manager.GetComparison(name)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// RecordOutcome проставляет фактический исход для записей пациента в тесте.
// POST /v1/ab-tests/{name}/outcomes
func (h *ABTestHandler) RecordOutcome(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var body struct {
		PatientID string `json:"patient_id"`
		Outcome   string `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if body.PatientID == "" || body.Outcome == "" {
		http.Error(w, "patient_id and outcome are required", http.StatusBadRequest)
		return
	}

	updated, err := h.manager.RecordOutcome(r.Context(), name, body.PatientID, body.Outcome)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
