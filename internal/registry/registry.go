package registry

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/domain"
	"github.com/Skufu/DianaV2/internal/infra"
	"github.com/Skufu/DianaV2/internal/model"
)

// Handle — непрозрачная ссылка на загруженную модель. Иммутабелен после
// создания; замена модели — это новый логический слот или рестарт процесса.
type Handle struct {
	Name      string
	Version   string
	Predictor model.Predictor
}

// slot — независимая ленивая ячейка одной логической модели.
// Быстрый путь (handle уже построен) читает atomic-указатель без блокировки;
// медленный сериализуется на мьютексе слота, не задевая соседние модели.
type slot struct {
	mu     sync.Mutex
	handle atomic.Pointer[Handle]
}

// Registry — явный реестр моделей вместо глобальных синглтонов.
// Конструируется один раз на старте и внедряется в фасад.
type Registry struct {
	cfg        infra.ModelsConfig
	production bool
	logger     *zap.Logger

	mu    sync.RWMutex
	slots map[string]*slot

	// Подменяется в тестах; по умолчанию — артефакт с проверкой целостности
	build func(name string, entry infra.ModelEntry) (model.Predictor, error)
}

func New(cfg infra.ModelsConfig, production bool, logger *zap.Logger) *Registry {
	r := &Registry{
		cfg:        cfg,
		production: production,
		logger:     logger.Named("registry"),
		slots:      make(map[string]*slot),
	}
	r.build = r.buildPredictor
	return r
}

// Get возвращает хэндл модели, лениво конструируя его при первом обращении.
// Гарантии: никогда не отдает недостроенный хэндл; при N конкурентных первых
// вызовах конструирование выполняется ровно один раз; неудача не кэшируется —
// следующий вызов попробует снова (артефакт могли задеплоить).
func (r *Registry) Get(name string) (*Handle, error) {
	s, err := r.slotFor(name)
	if err != nil {
		return nil, err
	}

	// Быстрый путь без блокировки
	if h := s.handle.Load(); h != nil {
		return h, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Перепроверка: кто-то мог достроить, пока мы ждали мьютекс
	if h := s.handle.Load(); h != nil {
		return h, nil
	}

	entry := r.cfg.Entries[name]
	pred, err := r.build(name, entry)
	if err != nil {
		r.logger.Error("model construction failed",
			zap.String("model", name), zap.Error(err))
		return nil, &domain.ModelUnavailableError{Model: name, Cause: err}
	}

	h := &Handle{Name: name, Version: pred.Version(), Predictor: pred}
	s.handle.Store(h)
	r.logger.Info("model loaded",
		zap.String("model", name), zap.String("version", h.Version))
	return h, nil
}

// Default возвращает продакшн-модель по умолчанию
func (r *Registry) Default() (*Handle, error) {
	return r.Get(r.cfg.Default)
}

// Names перечисляет сконфигурированные логические модели
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.cfg.Entries))
	for name := range r.cfg.Entries {
		names = append(names, name)
	}
	return names
}

// Loaded сообщает, построен ли хэндл, не провоцируя загрузку (для /health)
func (r *Registry) Loaded(name string) bool {
	r.mu.RLock()
	s, ok := r.slots[name]
	r.mu.RUnlock()
	return ok && s.handle.Load() != nil
}

func (r *Registry) slotFor(name string) (*slot, error) {
	r.mu.RLock()
	s, ok := r.slots[name]
	r.mu.RUnlock()
	if ok {
		return s, nil
	}

	if _, configured := r.cfg.Entries[name]; !configured {
		return nil, &domain.ModelUnavailableError{
			Model: name, Cause: fmt.Errorf("model is not configured")}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[name]; ok {
		return s, nil
	}
	s = &slot{}
	r.slots[name] = s
	return s, nil
}

func (r *Registry) buildPredictor(name string, entry infra.ModelEntry) (model.Predictor, error) {
	switch entry.Kind {
	case "http":
		return model.NewHTTPPredictor(entry.URL, entry.Version, name), nil
	default:
		artifactPath := filepath.Join(r.cfg.Dir, entry.File)
		manifestPath := filepath.Join(r.cfg.Dir, r.cfg.ManifestFile)
		if err := verifyIntegrity(manifestPath, artifactPath, r.production, r.logger); err != nil {
			return nil, err
		}
		return model.LoadArtifact(artifactPath)
	}
}
