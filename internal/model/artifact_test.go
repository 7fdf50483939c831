package model

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skufu/DianaV2/internal/domain"
)

// testArtifact — артефакт с единичным стандартизатором и вырожденными
// коэффициентами: класс Diabetic растет только от bmi, остальные нули.
// Предсказания при этом полностью предсказуемы из теста.
func testArtifact() Artifact {
	a := Artifact{
		Version:   "clinical-test-1",
		ModelType: TypeClinical,
		Features:  []string{"bmi", "triglycerides", "ldl", "hdl", "age"},
		Classes:   []string{"Normal", "Pre-diabetic", "Diabetic"},
		Coefficients: [][]float64{
			{-0.5, 0, 0, 0, 0},
			{0, 0, 0, 0, 0},
			{0.5, 0, 0, 0, 0},
		},
		Intercepts: []float64{0, 0, 0},
		Clusters: []Cluster{
			{Label: "LOW", RiskLevel: "LOW", Center: []float64{20, 100, 90, 60, 30}},
			{Label: "HIGH", RiskLevel: "HIGH", Center: []float64{45, 400, 180, 30, 60}},
		},
	}
	// Центруем bmi около 30: ниже — растет логит Normal, выше — Diabetic
	a.Scaler.Mean = []float64{30, 0, 0, 0, 0}
	a.Scaler.Scale = []float64{1, 1, 1, 1, 1}
	return a
}

func writeArtifact(t *testing.T, a Artifact) string {
	t.Helper()
	data, err := json.Marshal(a)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadArtifactValidatesSchema(t *testing.T) {
	broken := testArtifact()
	broken.Scaler.Mean = []float64{0, 0} // размерность не совпадает с фичами

	_, err := LoadArtifact(writeArtifact(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scaler")
}

func TestLoadArtifactMissingFile(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestArtifactPredict(t *testing.T) {
	p, err := LoadArtifact(writeArtifact(t, testArtifact()))
	require.NoError(t, err)

	pred, err := p.Predict(context.Background(), domain.FeatureVector{
		"bmi": 45, "triglycerides": 400, "ldl": 180, "hdl": 30, "age": 60,
	})
	require.NoError(t, err)

	assert.Equal(t, "Diabetic", pred.PredictedStatus)
	assert.Equal(t, "clinical-test-1", pred.ModelVersion)
	assert.Equal(t, TypeClinical, pred.ModelType)
	assert.Equal(t, "HIGH", pred.RiskCluster)
	assert.InDelta(t, 1.0, pred.Probabilities["Normal"]+pred.Probabilities["Pre-diabetic"]+pred.Probabilities["Diabetic"], 0.01)
	assert.Greater(t, pred.Probability, 0.9)
	assert.InDelta(t, pred.Probability*100, float64(pred.RiskScore), 1.0)

	// clinical-модель без hba1c не выставляет медицинский статус
	assert.Empty(t, pred.MedicalStatus)
}

func TestArtifactPredictLowRisk(t *testing.T) {
	p, err := LoadArtifact(writeArtifact(t, testArtifact()))
	require.NoError(t, err)

	pred, err := p.Predict(context.Background(), domain.FeatureVector{
		"bmi": 20, "triglycerides": 100, "ldl": 90, "hdl": 60, "age": 30,
	})
	require.NoError(t, err)

	assert.Equal(t, "Normal", pred.PredictedStatus)
	assert.Equal(t, "LOW", pred.RiskCluster)
	assert.Less(t, pred.Probability, 0.1)
}

func TestArtifactPredictMissingFeature(t *testing.T) {
	p, err := LoadArtifact(writeArtifact(t, testArtifact()))
	require.NoError(t, err)

	_, err = p.Predict(context.Background(), domain.FeatureVector{"bmi": 25})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestBinaryArtifactSigmoid(t *testing.T) {
	a := testArtifact()
	a.Classes = []string{"Normal", "Diabetic"}
	a.Coefficients = [][]float64{{0.1, 0, 0, 0, 0}} // одна строка — бинарная модель
	a.Intercepts = []float64{0}
	a.Clusters = nil

	p, err := LoadArtifact(writeArtifact(t, a))
	require.NoError(t, err)

	pred, err := p.Predict(context.Background(), domain.FeatureVector{
		"bmi": 50, "triglycerides": 100, "ldl": 90, "hdl": 60, "age": 30,
	})
	require.NoError(t, err)

	// logit = 0.1*(50-30) = 2, sigmoid(2) ≈ 0.881
	assert.InDelta(t, 0.881, pred.Probability, 0.001)
	assert.Equal(t, "Diabetic", pred.PredictedStatus)
	assert.InDelta(t, 1.0, pred.Probabilities["Normal"]+pred.Probabilities["Diabetic"], 0.001)
}

func TestADAArtifactMedicalStatus(t *testing.T) {
	a := Artifact{
		Version:   "ada-test-1",
		ModelType: TypeADA,
		Features:  []string{"hba1c", "fbs", "bmi", "triglycerides", "ldl", "hdl"},
		Classes:   []string{"Normal", "Diabetic"},
		Coefficients: [][]float64{
			{1, 0, 0, 0, 0, 0},
		},
		Intercepts: []float64{-6},
	}
	a.Scaler.Mean = []float64{0, 0, 0, 0, 0, 0}
	a.Scaler.Scale = []float64{1, 1, 1, 1, 1, 1}

	p, err := LoadArtifact(writeArtifact(t, a))
	require.NoError(t, err)

	pred, err := p.Predict(context.Background(), domain.FeatureVector{
		"hba1c": 6.0, "fbs": 110, "bmi": 28, "triglycerides": 150, "ldl": 120, "hdl": 45,
	})
	require.NoError(t, err)

	// Классификатор и пороги ADA — независимые сигналы
	assert.Equal(t, "Pre-diabetic", pred.MedicalStatus)
}
