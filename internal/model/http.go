// HTTPPredictor: прокидывает фичи в удаленный model runner по HTTP.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Skufu/DianaV2/internal/domain"
)

// HTTPPredictor — модель-коллаборатор за сетью. Таймаут на вызов задает
// вызывающая сторона через контекст (reliability-обертка фасада), поэтому
// у клиента собственного Timeout нет.
type HTTPPredictor struct {
	client    *http.Client
	url       string
	version   string
	modelType string
	contract  domain.FeatureContract
}

func NewHTTPPredictor(url, version, modelType string) *HTTPPredictor {
	return &HTTPPredictor{
		client:    &http.Client{},
		url:       url,
		version:   version,
		modelType: modelType,
		contract:  ContractFor(modelType),
	}
}

func (p *HTTPPredictor) Version() string                  { return p.version }
func (p *HTTPPredictor) Contract() domain.FeatureContract { return p.contract }

func (p *HTTPPredictor) Predict(ctx context.Context, features domain.FeatureVector) (domain.Prediction, error) {
	payload, err := json.Marshal(features)
	if err != nil {
		return domain.Prediction{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return domain.Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("model runner call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Тело не читаем в ошибку целиком — ограничиваемся статусом
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return domain.Prediction{}, fmt.Errorf("model runner returned %d", resp.StatusCode)
	}

	var pred domain.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return domain.Prediction{}, fmt.Errorf("decode model runner response: %w", err)
	}

	if pred.ModelVersion == "" {
		pred.ModelVersion = p.version
	}
	if pred.ModelType == "" {
		pred.ModelType = p.modelType
	}
	return pred, nil
}

func (p *HTTPPredictor) PredictClass(ctx context.Context, features domain.FeatureVector) (string, error) {
	pred, err := p.Predict(ctx, features)
	if err != nil {
		return "", err
	}
	return pred.PredictedStatus, nil
}
