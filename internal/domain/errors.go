package domain

import (
	"fmt"
	"strings"
)

// Таксономия ошибок рантайма. Хендлеры маппят их в HTTP-статусы через errors.As,
// поэтому все типы — указатели с полным контекстом (какая фича, какой тест, какая модель).

// ThrottledError — превышен лимит запросов. Восстановимая, клиент повторит позже.
// Никогда не пишется в error-лог, только в метрику.
type ThrottledError struct {
	Window string // "second" или "minute"
	Limit  int
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("rate limit exceeded (per %s, limit %d)", e.Window, e.Limit)
}

// ValidationError — входные фичи отсутствуют или вне клинического диапазона.
// Чинится на стороне клиента, автоматически не ретраится.
type ValidationError struct {
	ModelType string
	Missing   []string
	Problems  []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("model %s: missing required features: %s",
			e.ModelType, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("model %s: %s", e.ModelType, strings.Join(e.Problems, "; "))
}

// ModelUnavailableError — артефакт не найден или не прошел проверку целостности.
// В production-режиме это 503 для данной модели до редеплоя.
type ModelUnavailableError struct {
	Model string
	Cause error
}

func (e *ModelUnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Cause)
}

func (e *ModelUnavailableError) Unwrap() error { return e.Cause }

// SecurityError — несовпадение контрольной суммы артефакта или отсутствие
// манифеста хэшей в production-режиме
type SecurityError struct {
	File   string
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security: %s: %s", e.File, e.Reason)
}

// PersistenceError — сбой чтения/записи durable-хранилища. Роутинг и lookup
// референса деградируют мягко и этот тип наружу не отдают; наружу он выходит
// только из явных операторских мутаций (create/update/delete).
type PersistenceError struct {
	Op    string // "load" или "save"
	Key   string
	Cause error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }
