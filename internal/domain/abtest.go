package domain

import "time"

// TestStatus — жизненный цикл A/B-теста
type TestStatus string

const (
	TestActive    TestStatus = "active"
	TestPaused    TestStatus = "paused"
	TestCompleted TestStatus = "completed"
)

// Valid отсекает произвольные строки из PATCH-запросов
func (s TestStatus) Valid() bool {
	switch s {
	case TestActive, TestPaused, TestCompleted:
		return true
	}
	return false
}

// ABTestConfig — конфигурация одного A/B-теста.
// Инвариант: TrafficSplit всегда в [0,1], TestName уникален.
type ABTestConfig struct {
	TestName          string     `json:"test_name"`
	BaselineVersion   string     `json:"baseline_version"`
	ChallengerVersion string     `json:"challenger_version"`
	TrafficSplit      float64    `json:"traffic_split"` // Доля трафика на challenger
	CreatedAt         time.Time  `json:"created_at"`
	EndAt             *time.Time `json:"end_at,omitempty"`
	Status            TestStatus `json:"status"`
	Description       string     `json:"description,omitempty"`
}

// PredictionRecord — append-only запись прогноза для офлайн-сравнения версий.
// PatientHash — усеченный односторонний дайджест, сырой ID пациента не хранится.
type PredictionRecord struct {
	TestName      string        `json:"test_name"`
	ModelVersion  string        `json:"model_version"`
	PatientHash   string        `json:"patient_hash"`
	Features      FeatureVector `json:"features"`
	Prediction    Prediction    `json:"prediction"`
	Timestamp     time.Time     `json:"timestamp"`
	ActualOutcome *string       `json:"actual_outcome,omitempty"` // Единственное дозаполняемое поле
}

// ArmMetrics — агрегаты по одной стороне теста
type ArmMetrics struct {
	Count          int     `json:"count"`
	AvgProbability float64 `json:"avg_probability,omitempty"`
	StdProbability float64 `json:"std_probability,omitempty"`

	// Заполняются только для записей с проставленным исходом
	ValidatedCount int      `json:"validated_count,omitempty"`
	Accuracy       *float64 `json:"accuracy,omitempty"`

	PredictionDistribution map[string]int `json:"prediction_distribution,omitempty"`
}

// ArmReport связывает версию модели с её агрегатами
type ArmReport struct {
	Version string     `json:"version"`
	Metrics ArmMetrics `json:"metrics"`
}

// Comparison — итоговое сравнение baseline против challenger
type Comparison struct {
	TestName         string     `json:"test_name"`
	Status           TestStatus `json:"status"`
	TrafficSplit     float64    `json:"traffic_split"`
	CreatedAt        time.Time  `json:"created_at"`
	Baseline         ArmReport  `json:"baseline"`
	Challenger       ArmReport  `json:"challenger"`
	TotalPredictions int        `json:"total_predictions"`
}
