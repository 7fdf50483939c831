package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Skufu/DianaV2/internal/infra"
	"github.com/Skufu/DianaV2/internal/infra/auth"
	"github.com/Skufu/DianaV2/internal/server/handler"
)

type Server struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Интерфейс для проверки токенов операторского периметра (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	predictHandler    *handler.PredictHandler    // /v1/predict
	abtestHandler     *handler.ABTestHandler     // /v1/ab-tests
	monitoringHandler *handler.MonitoringHandler // /v1/monitoring
}

// NewServer собирает HTTP-слой serving-рантайма со всеми зависимостями
func NewServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	predictH *handler.PredictHandler,
	abtestH *handler.ABTestHandler,
	monitoringH *handler.MonitoringHandler,
) *Server {
	s := &Server{
		router:            chi.NewRouter(),
		logger:            logger.Named("serving-api"),
		cfg:               cfg,
		authValidator:     validator,
		predictHandler:    predictH,
		abtestHandler:     abtestH,
		monitoringHandler: monitoringH,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(tracingMiddleware)
	r.Use(bodyLimit(s.cfg.Server.MaxBodyBytes))

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Healthcheck для оркестратора
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
	})

	// --- 3. PREDICT-ПЕРИМЕТР (общий API-ключ интеграторов) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewAPIKeyMiddleware(s.cfg.Auth.APIKey, s.logger))

		r.Post("/v1/predict", s.predictHandler.Predict)
		r.Post("/v1/predict/batch", s.predictHandler.PredictBatch)
		r.Get("/v1/models", s.predictHandler.Models)
	})

	// --- 4. ОПЕРАТОРСКИЙ ПЕРИМЕТР (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewOperatorMiddleware(s.authValidator, s.logger))

		// Управление A/B-тестами
		r.Route("/v1/ab-tests", func(r chi.Router) {
			r.Get("/", s.abtestHandler.List)
			r.Post("/", s.abtestHandler.Create)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.abtestHandler.Get)
				r.Delete("/", s.abtestHandler.Delete)
				r.Post("/status", s.abtestHandler.UpdateStatus)     // active/paused/completed
				r.Get("/results", s.abtestHandler.Results)          // baseline vs challenger
				r.Post("/outcomes", s.abtestHandler.RecordOutcome)  // фактические исходы
			})
		})

		// Дрифт-мониторинг
		r.Route("/v1/monitoring", func(r chi.Router) {
			r.Get("/drift", s.monitoringHandler.Status)
			r.Post("/drift-check", s.monitoringHandler.CheckDrift)
			r.Post("/reference", s.monitoringHandler.SetReference)
			r.Get("/alerts", s.monitoringHandler.Alerts)
			r.Post("/alerts/ack", s.monitoringHandler.Acknowledge)
		})
	})
}

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

// tracingMiddleware инициализирует Trace-ID для каждого запроса
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Пытаемся достать ID из заголовка (если пришел от прокси)
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)

		// Добавляем в ответ, чтобы клиент тоже знал ID своего запроса
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bodyLimit защищает декодеры от гигантских тел (батчи и референсы и так
// ограничены по смыслу)
func bodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if maxBytes > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
