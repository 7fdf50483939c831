package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"

	"github.com/Skufu/DianaV2/internal/domain"
)

// Artifact — сериализованная модель, экспортированная тренировочным
// пайплайном (scripts/train_*): стандартизатор, мультиномиальная логистическая
// регрессия и центроиды K-means c типизированными метками кластеров.
type Artifact struct {
	Version   string   `json:"version"`
	ModelType string   `json:"model_type"` // "clinical" или "ada"
	Features  []string `json:"features"`   // порядок колонок тренировки

	Scaler struct {
		Mean  []float64 `json:"mean"`
		Scale []float64 `json:"scale"`
	} `json:"scaler"`

	Classes      []string    `json:"classes"`      // ["Normal","Pre-diabetic","Diabetic"]
	Coefficients [][]float64 `json:"coefficients"` // [класс][фича]
	Intercepts   []float64   `json:"intercepts"`

	// Типизированные метки кластеров вместо dict-блобов cluster_labels.json
	Clusters []Cluster `json:"clusters,omitempty"`

	// Переопределение клинических диапазонов (опционально)
	Ranges map[string]domain.FeatureRange `json:"ranges,omitempty"`
}

// Cluster — центроид K-means с меткой риска
type Cluster struct {
	Label     string    `json:"label"`      // "LOW" / "MODERATE" / "HIGH"
	RiskLevel string    `json:"risk_level"` // дублирует Label для UI-легенды
	Center    []float64 `json:"center"`     // в масштабированном пространстве
}

// validate — схема артефакта проверяется при загрузке, не при первом predict
func (a *Artifact) validate() error {
	n := len(a.Features)
	if n == 0 {
		return fmt.Errorf("artifact %s: no features declared", a.Version)
	}
	if len(a.Scaler.Mean) != n || len(a.Scaler.Scale) != n {
		return fmt.Errorf("artifact %s: scaler dimensions mismatch features", a.Version)
	}
	if len(a.Classes) < 2 {
		return fmt.Errorf("artifact %s: need at least 2 classes", a.Version)
	}
	// Бинарная sklearn-модель хранит одну строку коэффициентов
	if len(a.Coefficients) != len(a.Classes) && !(len(a.Classes) == 2 && len(a.Coefficients) == 1) {
		return fmt.Errorf("artifact %s: coefficient rows (%d) mismatch classes (%d)",
			a.Version, len(a.Coefficients), len(a.Classes))
	}
	if len(a.Intercepts) != len(a.Coefficients) {
		return fmt.Errorf("artifact %s: intercepts mismatch coefficient rows", a.Version)
	}
	for i, row := range a.Coefficients {
		if len(row) != n {
			return fmt.Errorf("artifact %s: coefficient row %d has %d values, want %d",
				a.Version, i, len(row), n)
		}
	}
	for i, c := range a.Clusters {
		if len(c.Center) != n {
			return fmt.Errorf("artifact %s: cluster %d center dimension mismatch", a.Version, i)
		}
	}
	return nil
}

// ArtifactPredictor — in-process модель поверх загруженного артефакта.
// Иммутабелен после создания: горячей замены нет, только новый логический слот.
type ArtifactPredictor struct {
	artifact *Artifact
	contract domain.FeatureContract
}

// LoadArtifact читает и валидирует артефакт. Целостность файла проверяет
// реестр до вызова; здесь только схема.
func LoadArtifact(path string) (*ArtifactPredictor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}

	contract := ContractFor(a.ModelType)
	if len(a.Ranges) > 0 {
		contract = domain.FeatureContract{Required: a.Features, Ranges: a.Ranges}
	}
	return &ArtifactPredictor{artifact: &a, contract: contract}, nil
}

func (p *ArtifactPredictor) Version() string                  { return p.artifact.Version }
func (p *ArtifactPredictor) Contract() domain.FeatureContract { return p.contract }

func (p *ArtifactPredictor) Predict(_ context.Context, features domain.FeatureVector) (domain.Prediction, error) {
	a := p.artifact

	// Вектор в порядке тренировки + стандартизация
	z := make([]float64, len(a.Features))
	for i, name := range a.Features {
		v, ok := features[name]
		if !ok {
			return domain.Prediction{}, &domain.ValidationError{
				ModelType: a.ModelType, Missing: []string{name}}
		}
		z[i] = (v - a.Scaler.Mean[i]) / a.Scaler.Scale[i]
	}

	probs := p.classProbabilities(z)

	// argmax — предсказанный статус, max — уверенность
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	predictedStatus := a.Classes[best]
	confidence := round3(probs[best])

	// Вероятность диабета: класс "Diabetic", иначе максимум
	diabetesProb := probs[best]
	for i, cls := range a.Classes {
		if cls == "Diabetic" {
			diabetesProb = probs[i]
			break
		}
	}

	dist := make(map[string]float64, len(a.Classes))
	for i, cls := range a.Classes {
		dist[cls] = round3(probs[i])
	}

	pred := domain.Prediction{
		ModelType:       a.ModelType,
		ModelVersion:    a.Version,
		PredictedStatus: predictedStatus,
		Probability:     round3(diabetesProb),
		RiskScore:       int(diabetesProb * 100),
		Confidence:      confidence,
		Probabilities:   dist,
	}

	if cl := p.nearestCluster(z); cl != nil {
		pred.RiskCluster = cl.Label
		pred.RiskLevel = cl.RiskLevel
	}

	// Статус по порогам ADA — только когда HbA1c входит в фичи
	if hba1c, ok := features["hba1c"]; ok && a.ModelType == TypeADA {
		pred.MedicalStatus = MedicalStatus(hba1c)
	}

	return pred, nil
}

func (p *ArtifactPredictor) PredictClass(ctx context.Context, features domain.FeatureVector) (string, error) {
	pred, err := p.Predict(ctx, features)
	if err != nil {
		return "", err
	}
	return pred.PredictedStatus, nil
}

// classProbabilities — softmax по логитам; для бинарной модели с одной
// строкой коэффициентов — сигмоида
func (p *ArtifactPredictor) classProbabilities(z []float64) []float64 {
	a := p.artifact

	if len(a.Coefficients) == 1 && len(a.Classes) == 2 {
		logit := floats.Dot(a.Coefficients[0], z) + a.Intercepts[0]
		pos := 1.0 / (1.0 + math.Exp(-logit))
		return []float64{1 - pos, pos}
	}

	logits := make([]float64, len(a.Coefficients))
	maxLogit := math.Inf(-1)
	for i, row := range a.Coefficients {
		logits[i] = floats.Dot(row, z) + a.Intercepts[i]
		if logits[i] > maxLogit {
			maxLogit = logits[i]
		}
	}

	// Вычитаем максимум для численной устойчивости
	var sum float64
	probs := make([]float64, len(logits))
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

func (p *ArtifactPredictor) nearestCluster(z []float64) *Cluster {
	if len(p.artifact.Clusters) == 0 {
		return nil
	}
	best := 0
	bestDist := math.Inf(1)
	for i := range p.artifact.Clusters {
		d := floats.Distance(z, p.artifact.Clusters[i].Center, 2)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return &p.artifact.Clusters[best]
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
