package ratelimit

import (
	"sync"
	"time"

	"github.com/Skufu/DianaV2/internal/domain"
)

// Limiter — двухоконный скользящий лимитер на клиента: окно 1с и окно 60с
// с независимыми лимитами. Состояние живет только в памяти процесса:
// рестарт сбрасывает счетчики (лимитер — защитный барьер, не security boundary).
type Limiter struct {
	mu        sync.Mutex
	perSecond int
	perMinute int

	second map[string][]time.Time
	minute map[string][]time.Time
	calls  int

	// Подменяется в тестах
	now func() time.Time
}

// sweepEvery — период ленивой уборки: раз в столько вызовов Allow карта
// проходится целиком и замолчавшие клиенты выбрасываются. Без этого ключи
// разовых клиентов жили бы до рестарта процесса.
const sweepEvery = 4096

func New(perSecond, perMinute int) *Limiter {
	return &Limiter{
		perSecond: perSecond,
		perMinute: perMinute,
		second:    make(map[string][]time.Time),
		minute:    make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Allow решает судьбу запроса клиента. Порядок строгий: сначала чистим
// устаревшие таймстемпы, потом проверяем оба окна, и только при проходе
// обоих — записываем новый таймстемп. Отклоненный запрос не записывается,
// иначе заблокированный клиент никогда бы не разблокировался.
func (l *Limiter) Allow(clientID string) (bool, *domain.ThrottledError) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	l.calls++
	if l.calls%sweepEvery == 0 {
		l.sweepLocked(now)
	}

	l.minute[clientID] = prune(l.minute[clientID], now.Add(-time.Minute))
	l.second[clientID] = prune(l.second[clientID], now.Add(-time.Second))

	if len(l.minute[clientID]) >= l.perMinute {
		return false, &domain.ThrottledError{Window: "minute", Limit: l.perMinute}
	}
	if len(l.second[clientID]) >= l.perSecond {
		return false, &domain.ThrottledError{Window: "second", Limit: l.perSecond}
	}

	l.minute[clientID] = append(l.minute[clientID], now)
	l.second[clientID] = append(l.second[clientID], now)
	return true, nil
}

// sweepLocked выбрасывает клиентов без живых таймстемпов в минутном окне.
// Секундное окно — всегда подмножество минутного, отдельно его проверять
// не нужно. Вызывается под mu.
func (l *Limiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	for id, ts := range l.minute {
		pruned := prune(ts, cutoff)
		if len(pruned) == 0 {
			delete(l.minute, id)
			delete(l.second, id)
			continue
		}
		l.minute[id] = pruned
	}
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	// Таймстемпы упорядочены по возрастанию, ищем первый живой
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}
