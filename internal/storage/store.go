package storage

import "context"

// Store — durable-коллаборатор рантайма: key -> JSON-документ.
// Контракт минимальный специально: эталонная реализация — файлы,
// но любой KV с такими двумя операциями конформен (Postgres, Redis).
type Store interface {
	// Load возвращает (nil, nil), если ключа нет — отсутствие данных
	// не ошибка (пустой конфиг => fail-safe поведение выше по стеку)
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}
