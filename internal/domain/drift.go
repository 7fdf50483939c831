package domain

import "time"

// Severity — градация дрифта по порогам PSI
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

var severityOrder = map[Severity]int{
	SeverityNone:   0,
	SeverityLow:    1,
	SeverityMedium: 2,
	SeverityHigh:   3,
}

// Rank возвращает позицию в порядке none < low < medium < high
func (s Severity) Rank() int { return severityOrder[s] }

// Max выбирает более тяжелую из двух
func (s Severity) Max(other Severity) Severity {
	if other.Rank() > s.Rank() {
		return other
	}
	return s
}

// FeatureDrift — результат сравнения распределений одной фичи.
// Degraded = true означает "статистика не посчиталась" (вырожденный вход),
// а не "дрифта нет" — коллбэк-флаг вместо молчаливого проглатывания ошибки.
type FeatureDrift struct {
	PSI         float64  `json:"psi"`
	KSStatistic float64  `json:"ks_statistic"`
	KSPValue    float64  `json:"ks_pvalue"`
	Severity    Severity `json:"severity"`
	Drifted     bool     `json:"drifted"`
	Degraded    bool     `json:"degraded,omitempty"`

	ReferenceMean float64 `json:"reference_mean"`
	ReferenceStd  float64 `json:"reference_std"`
	CurrentMean   float64 `json:"current_mean"`
	CurrentStd    float64 `json:"current_std"`
}

// DriftReport — свежий отчет одной проверки. Сам не персистится,
// но может породить Alert (тот — персистится).
type DriftReport struct {
	Timestamp       time.Time               `json:"timestamp"`
	HasDrift        bool                    `json:"has_drift"`
	Severity        Severity                `json:"severity"`
	FeatureDrifts   map[string]FeatureDrift `json:"feature_drifts"`
	Recommendations []string                `json:"recommendations,omitempty"`
}

// AlertDetails — машиночитаемая часть алерта
type AlertDetails struct {
	Features        []string `json:"features"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Alert — персистентное уведомление о дрифте, квитируется оператором
type Alert struct {
	Timestamp    time.Time    `json:"timestamp"`
	AlertType    string       `json:"alert_type"` // пока только "drift"
	Severity     Severity     `json:"severity"`
	Message      string       `json:"message"`
	Details      AlertDetails `json:"details"`
	Acknowledged bool         `json:"acknowledged"`
}

// MonitorStatus — сводка для GET /monitoring/drift
type MonitorStatus struct {
	ReferenceFeatures     []string   `json:"reference_features"`
	ReferenceSet          bool       `json:"reference_set"`
	TotalAlerts           int        `json:"total_alerts"`
	UnacknowledgedAlerts  int        `json:"unacknowledged_alerts"`
	LastAlertAt           *time.Time `json:"last_alert_at,omitempty"`
}
