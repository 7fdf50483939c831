package model

import (
	"context"
	"fmt"

	"github.com/Skufu/DianaV2/internal/domain"
)

// Predictor — контракт модели-коллаборатора. Рантайм не знает, что внутри:
// локальный артефакт или удаленный model runner.
type Predictor interface {
	// Predict возвращает полный прогноз (распределение, кластер, статус)
	Predict(ctx context.Context, features domain.FeatureVector) (domain.Prediction, error)
	// PredictClass возвращает только метку класса
	PredictClass(ctx context.Context, features domain.FeatureVector) (string, error)
	// Contract описывает требуемые фичи и их клинические диапазоны
	Contract() domain.FeatureContract
	Version() string
}

// Типы логических моделей исследования DIANA
const (
	TypeClinical = "clinical" // bmi, tg, ldl, hdl, age — без циркулярных фич
	TypeADA      = "ada"      // базовая модель с HbA1c и FBS
)

// Контракты фич обеих моделей. Диапазоны — клинически допустимые границы
// биомаркеров; выход за них — ошибка ввода, а не экстремальный пациент.
var contracts = map[string]domain.FeatureContract{
	TypeClinical: {
		Required: []string{"bmi", "triglycerides", "ldl", "hdl", "age"},
		Ranges: map[string]domain.FeatureRange{
			"bmi":           {Min: 10, Max: 80},
			"triglycerides": {Min: 20, Max: 1500},
			"ldl":           {Min: 10, Max: 400},
			"hdl":           {Min: 10, Max: 150},
			"age":           {Min: 18, Max: 120},
		},
	},
	TypeADA: {
		Required: []string{"hba1c", "fbs", "bmi", "triglycerides", "ldl", "hdl"},
		Ranges: map[string]domain.FeatureRange{
			"hba1c":         {Min: 2.0, Max: 20.0},
			"fbs":           {Min: 20, Max: 600},
			"bmi":           {Min: 10, Max: 80},
			"triglycerides": {Min: 20, Max: 1500},
			"ldl":           {Min: 10, Max: 400},
			"hdl":           {Min: 10, Max: 150},
		},
	},
}

// ContractFor возвращает контракт фич для известного типа модели.
// Неизвестный тип получает клинический контракт (рекомендуемая модель).
func ContractFor(modelType string) domain.FeatureContract {
	if c, ok := contracts[modelType]; ok {
		return c
	}
	return contracts[TypeClinical]
}

// Пороги ADA для классификации статуса по HbA1c
const (
	hba1cPrediabetic = 5.7
	hba1cDiabetic    = 6.5
)

// MedicalStatus классифицирует статус диабета по уровню HbA1c
func MedicalStatus(hba1c float64) string {
	switch {
	case hba1c < hba1cPrediabetic:
		return "Normal"
	case hba1c < hba1cDiabetic:
		return "Pre-diabetic"
	default:
		return "Diabetic"
	}
}

// Validate проверяет вектор фич против контракта: сначала полнота,
// потом диапазоны. Возвращает типизированную ошибку для 400.
func Validate(modelType string, c domain.FeatureContract, features domain.FeatureVector) error {
	var missing []string
	for _, f := range c.Required {
		if _, ok := features[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &domain.ValidationError{ModelType: modelType, Missing: missing}
	}

	var problems []string
	for _, f := range c.Required {
		r, ok := c.Ranges[f]
		if !ok {
			continue
		}
		if v := features[f]; v < r.Min || v > r.Max {
			problems = append(problems, fmt.Sprintf(
				"%s value %g out of range [%g, %g]", f, v, r.Min, r.Max))
		}
	}
	if len(problems) > 0 {
		return &domain.ValidationError{ModelType: modelType, Problems: problems}
	}
	return nil
}
