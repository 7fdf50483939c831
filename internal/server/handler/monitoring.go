package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/drift"
	"github.com/Skufu/DianaV2/internal/infra/auth"
)

type MonitoringHandler struct {
	monitor *drift.Monitor
	logger  *zap.Logger

	// Коллбэк для синхронизации метрики незакрытых алертов
	onAlertsChanged func()
}

func NewMonitoringHandler(m *drift.Monitor, onAlertsChanged func(), logger *zap.Logger) *MonitoringHandler {
	return &MonitoringHandler{
		monitor:         m,
		onAlertsChanged: onAlertsChanged,
		logger:          logger.Named("monitoring-api"),
	}
}

// Status возвращает сводку дрифт-монитора.
// GET /v1/monitoring/drift
func (h *MonitoringHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.monitor.Status())
}

// SetReference заменяет эталонные распределения целиком.
// POST /v1/monitoring/reference
func (h *MonitoringHandler) SetReference(w http.ResponseWriter, r *http.Request) {
	var reference map[string][]float64
	if err := json.NewDecoder(r.Body).Decode(&reference); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.monitor.SetReference(r.Context(), reference); err != nil {
		writeError(h.logger, w, err)
		return
	}

	h.logger.Info("reference distributions replaced",
		zap.Int("features", len(reference)),
		zap.String("operator", auth.OperatorID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}

// CheckDrift сравнивает присланные выборки с эталоном. create_alert=true
// дополнительно персистит алерт, если дрифт обнаружен.
// POST /v1/monitoring/drift-check
func (h *MonitoringHandler) CheckDrift(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Current     map[string][]float64 `json:"current"`
		CreateAlert bool                 `json:"create_alert"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	report, err := h.monitor.CheckFeatureDrift(body.Current)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	if body.CreateAlert {
		if _, err := h.monitor.CreateAlert(r.Context(), report); err != nil {
			writeError(h.logger, w, err)
			return
		}
		if h.onAlertsChanged != nil {
			h.onAlertsChanged()
		}
	}
	writeJSON(w, http.StatusOK, report)
}

// Alerts возвращает журнал алертов, новые первыми.
// GET /v1/monitoring/alerts?unacknowledged=true&limit=20
func (h *MonitoringHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	unackOnly := r.URL.Query().Get("unacknowledged") == "true"

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, h.monitor.GetAlerts(unackOnly, limit))
}

// Acknowledge квитирует алерт по его timestamp.
// POST /v1/monitoring/alerts/ack
func (h *MonitoringHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ok, err := h.monitor.AcknowledgeAlert(r.Context(), body.Timestamp)
	if err != nil {
		writeError(h.logger, w, err)
		return
	}
	if !ok {
		http.Error(w, "Alert not found", http.StatusNotFound)
		return
	}

	if h.onAlertsChanged != nil {
		h.onAlertsChanged()
	}
	h.logger.Info("alert acknowledged",
		zap.Time("alert", body.Timestamp),
		zap.String("operator", auth.OperatorID(r.Context())))
	w.WriteHeader(http.StatusNoContent)
}
