package engine

import (
	"errors"

	"github.com/Skufu/DianaV2/internal/domain"
)

// errorKind маппит таксономию ошибок в лейблы метрики diana_errors_total
func errorKind(err error) string {
	var (
		vErr *domain.ValidationError
		mErr *domain.ModelUnavailableError
		pErr *domain.PersistenceError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &mErr):
		return "model_unavailable"
	case errors.As(err, &pErr):
		return "storage"
	default:
		return "internal"
	}
}
