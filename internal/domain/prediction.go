package domain

// Arm определяет сторону A/B-теста, в которую попал запрос
type Arm string

const (
	ArmBaseline   Arm = "baseline"
	ArmChallenger Arm = "challenger"
)

// FeatureVector — входные биомаркеры пациента. Ключ — имя фичи ("bmi", "hba1c"...)
type FeatureVector map[string]float64

// Prediction — результат одного прогона модели.
// Поля повторяют контракт фронтенда DianaV2 (dashboard читает их как есть).
type Prediction struct {
	ModelType    string `json:"model_type"`
	ModelVersion string `json:"model_version"`

	// Классификация: Normal / Pre-diabetic / Diabetic
	PredictedStatus string `json:"predicted_status"`
	// MedicalStatus — статус по порогам ADA (только ada-модель, считается из HbA1c)
	MedicalStatus string `json:"medical_status,omitempty"`

	// Кластер риска из K-means (LOW / MODERATE / HIGH)
	RiskCluster string `json:"risk_cluster"`
	RiskLevel   string `json:"risk_level"`

	Probability float64 `json:"probability"` // Вероятность диабета, 0..1
	RiskScore   int     `json:"risk_score"`  // Probability * 100, для UI
	Confidence  float64 `json:"confidence"`  // max(proba) классификатора

	Probabilities map[string]float64 `json:"probabilities,omitempty"`

	// Routing заполняется только когда запрос шел через активный A/B-тест
	Routing *RoutingDecision `json:"ab_test,omitempty"`
}

// RoutingDecision — куда и почему был направлен запрос
type RoutingDecision struct {
	TestName     string `json:"test_name"`
	ModelVersion string `json:"model_version"`
	Arm          Arm    `json:"arm"`
}

// FeatureRange — клинически допустимый диапазон значения фичи.
// Выход за границы — ошибка валидации, а не "подозрительное значение".
type FeatureRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// FeatureContract описывает, какие фичи модель требует и в каких диапазонах
type FeatureContract struct {
	Required []string                `json:"required"`
	Ranges   map[string]FeatureRange `json:"ranges"`
}
