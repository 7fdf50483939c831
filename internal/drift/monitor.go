package drift

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/Skufu/DianaV2/internal/domain"
	"github.com/Skufu/DianaV2/internal/infra"
	"github.com/Skufu/DianaV2/internal/storage"
)

// Пороги тяжести дрифта по PSI. Индустриальная конвенция:
// < 0.1 стабильно, < 0.2 умеренный сдвиг, дальше — пересматривать модель.
const (
	psiLow    = 0.1
	psiMedium = 0.2
	psiHigh   = 0.25
)

// Monitor сравнивает текущие распределения фич с эталонными (снятыми при
// обучении) и ведет журнал алертов. Эталон заменяется только целиком —
// частичное обновление дало бы несравнимые статистики между фичами.
type Monitor struct {
	store  storage.Store
	logger *zap.Logger
	bins   int
	alpha  float64

	mu        sync.RWMutex
	reference map[string][]float64
	alerts    []domain.Alert

	now func() time.Time
}

func NewMonitor(ctx context.Context, store storage.Store, cfg infra.DriftConfig, logger *zap.Logger) (*Monitor, error) {
	m := &Monitor{
		store:  store,
		logger: logger.Named("drift"),
		bins:   cfg.Bins,
		alpha:  cfg.KSAlpha,
		now:    time.Now,
	}
	if err := m.restore(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Monitor) restore(ctx context.Context) error {
	raw, err := m.store.Load(ctx, infra.KeyDriftReference)
	if err != nil {
		return &domain.PersistenceError{Op: "load", Key: infra.KeyDriftReference, Cause: err}
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &m.reference); err != nil {
			return &domain.PersistenceError{Op: "decode", Key: infra.KeyDriftReference, Cause: err}
		}
	}

	raw, err = m.store.Load(ctx, infra.KeyDriftAlerts)
	if err != nil {
		return &domain.PersistenceError{Op: "load", Key: infra.KeyDriftAlerts, Cause: err}
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &m.alerts); err != nil {
			return &domain.PersistenceError{Op: "decode", Key: infra.KeyDriftAlerts, Cause: err}
		}
	}

	m.logger.Info("state restored",
		zap.Int("reference_features", len(m.reference)),
		zap.Int("alerts", len(m.alerts)))
	return nil
}

// SetReference атомарно заменяет эталонные распределения и персистит их
func (m *Monitor) SetReference(ctx context.Context, reference map[string][]float64) error {
	if len(reference) == 0 {
		return fmt.Errorf("drift: reference data is empty")
	}
	for name, values := range reference {
		if len(values) == 0 {
			return fmt.Errorf("drift: reference feature %q has no samples", name)
		}
	}

	raw, err := json.Marshal(reference)
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Key: infra.KeyDriftReference, Cause: err}
	}
	if err := m.store.Save(ctx, infra.KeyDriftReference, raw); err != nil {
		return &domain.PersistenceError{Op: "save", Key: infra.KeyDriftReference, Cause: err}
	}

	m.mu.Lock()
	m.reference = reference
	m.mu.Unlock()

	m.logger.Info("reference distributions set", zap.Int("features", len(reference)))
	return nil
}

// CheckFeatureDrift сравнивает текущие выборки с эталоном по каждой фиче.
// Фичи без эталона пропускаются с предупреждением: неполные данные не должны
// ронять проверку остальных.
func (m *Monitor) CheckFeatureDrift(current map[string][]float64) (*domain.DriftReport, error) {
	m.mu.RLock()
	reference := m.reference
	m.mu.RUnlock()

	if len(reference) == 0 {
		return nil, fmt.Errorf("drift: reference distributions are not set")
	}
	if len(current) == 0 {
		return nil, fmt.Errorf("drift: current data is empty")
	}

	report := &domain.DriftReport{
		Timestamp:     m.now().UTC(),
		Severity:      domain.SeverityNone,
		FeatureDrifts: map[string]domain.FeatureDrift{},
	}

	for name, values := range current {
		ref, ok := reference[name]
		if !ok {
			m.logger.Warn("feature missing from reference, skipped", zap.String("feature", name))
			continue
		}
		if len(values) == 0 {
			continue
		}

		fd := m.featureDrift(ref, values)
		report.FeatureDrifts[name] = fd
		if fd.Drifted {
			report.HasDrift = true
		}
		report.Severity = report.Severity.Max(fd.Severity)
	}

	report.Recommendations = m.recommendations(report)
	return report, nil
}

func (m *Monitor) featureDrift(reference, current []float64) domain.FeatureDrift {
	fd := domain.FeatureDrift{
		ReferenceMean: stat.Mean(reference, nil),
		ReferenceStd:  stat.PopStdDev(reference, nil),
		CurrentMean:   stat.Mean(current, nil),
		CurrentStd:    stat.PopStdDev(current, nil),
		Severity:      domain.SeverityNone,
		KSPValue:      1,
	}

	psi, psiOK := populationStabilityIndex(reference, current, m.bins)
	fd.PSI = round4(psi)

	ks, p, ksOK := kolmogorovSmirnov(reference, current)
	fd.KSStatistic = round4(ks)
	fd.KSPValue = round4(p)

	fd.Degraded = !psiOK || !ksOK
	fd.Drifted = psi >= psiLow || p < m.alpha

	switch {
	case psi >= psiHigh:
		fd.Severity = domain.SeverityHigh
	case psi >= psiMedium:
		fd.Severity = domain.SeverityMedium
	case psi >= psiLow:
		fd.Severity = domain.SeverityLow
	}
	return fd
}

// recommendations переводит статистику в действия для ML-команды
func (m *Monitor) recommendations(report *domain.DriftReport) []string {
	var recs []string
	drifted := 0
	for name, fd := range report.FeatureDrifts {
		if !fd.Drifted {
			continue
		}
		drifted++
		if fd.Severity == domain.SeverityHigh {
			recs = append(recs, fmt.Sprintf(
				"Feature %q shows high drift (PSI=%.3f), consider retraining the model", name, fd.PSI))
		}
		if fd.ReferenceMean != 0 {
			shift := math.Abs(fd.CurrentMean-fd.ReferenceMean) / math.Abs(fd.ReferenceMean)
			if shift > 0.2 {
				recs = append(recs, fmt.Sprintf(
					"Feature %q mean shifted by %.1f%% (%.2f -> %.2f), verify upstream data pipeline",
					name, shift*100, fd.ReferenceMean, fd.CurrentMean))
			}
		}
	}
	if drifted > 3 {
		recs = append(recs, fmt.Sprintf(
			"%d features drifted simultaneously, current data may come from a different population", drifted))
	}
	sort.Strings(recs)
	return recs
}

// CreateAlert персистит алерт по отчету. Отчет без дрифта алерта не создает.
func (m *Monitor) CreateAlert(ctx context.Context, report *domain.DriftReport) (*domain.Alert, error) {
	if report == nil || !report.HasDrift {
		return nil, nil
	}

	features := make([]string, 0, len(report.FeatureDrifts))
	for name, fd := range report.FeatureDrifts {
		if fd.Drifted {
			features = append(features, name)
		}
	}
	sort.Strings(features)

	alert := domain.Alert{
		Timestamp: report.Timestamp,
		AlertType: "drift",
		Severity:  report.Severity,
		Message: fmt.Sprintf("Data drift detected in %d feature(s): %s",
			len(features), strings.Join(features, ", ")),
		Details: domain.AlertDetails{
			Features:        features,
			Recommendations: report.Recommendations,
		},
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.alerts = append(m.alerts, alert)
	if err := m.saveAlertsLocked(ctx); err != nil {
		m.alerts = m.alerts[:len(m.alerts)-1]
		return nil, err
	}

	m.logger.Warn("drift alert created",
		zap.String("severity", string(alert.Severity)),
		zap.Strings("features", features))
	return &alert, nil
}

// GetAlerts возвращает алерты, новые первыми. unackOnly фильтрует
// неквитированные, limit <= 0 — без ограничения.
func (m *Monitor) GetAlerts(unackOnly bool, limit int) []domain.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Alert, 0, len(m.alerts))
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if unackOnly && a.Acknowledged {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// AcknowledgeAlert квитирует алерт по его timestamp. false — алерт не найден.
func (m *Monitor) AcknowledgeAlert(ctx context.Context, ts time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.alerts {
		if !m.alerts[i].Timestamp.Equal(ts) || m.alerts[i].Acknowledged {
			continue
		}
		m.alerts[i].Acknowledged = true
		if err := m.saveAlertsLocked(ctx); err != nil {
			m.alerts[i].Acknowledged = false
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Status — сводка монитора для операторских ручек
func (m *Monitor) Status() domain.MonitorStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	features := make([]string, 0, len(m.reference))
	for name := range m.reference {
		features = append(features, name)
	}
	sort.Strings(features)

	status := domain.MonitorStatus{
		ReferenceFeatures: features,
		ReferenceSet:      len(m.reference) > 0,
		TotalAlerts:       len(m.alerts),
	}
	for _, a := range m.alerts {
		if !a.Acknowledged {
			status.UnacknowledgedAlerts++
		}
	}
	if len(m.alerts) > 0 {
		last := m.alerts[len(m.alerts)-1].Timestamp
		status.LastAlertAt = &last
	}
	return status
}

func (m *Monitor) saveAlertsLocked(ctx context.Context) error {
	raw, err := json.Marshal(m.alerts)
	if err != nil {
		return &domain.PersistenceError{Op: "encode", Key: infra.KeyDriftAlerts, Cause: err}
	}
	if err := m.store.Save(ctx, infra.KeyDriftAlerts, raw); err != nil {
		return &domain.PersistenceError{Op: "save", Key: infra.KeyDriftAlerts, Cause: err}
	}
	return nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
