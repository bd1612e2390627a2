package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-control-plane/internal/audit"
	"github.com/xela07ax/spaceai-control-plane/internal/console/handler"
	"github.com/xela07ax/spaceai-control-plane/internal/engine"
	"github.com/xela07ax/spaceai-control-plane/internal/infra/auth"
)

// Handlers: обработчики бизнес-доменов, собранные в main.
type Handlers struct {
	Triggers   *handler.TriggerHandler    // /triggers
	Simulation *handler.SimulationHandler // /triggers/{id}/simulate
	KillSwitch *handler.KillSwitchHandler // /kill-switch
	Audit      *handler.AuditHandler      // /audit
	Health     *handler.HealthHandler     // /health
}

type ControlPlaneServer struct {
	router *chi.Mux
	logger *zap.Logger

	// Проверка операторов для мутаций kill-switch
	guard    *auth.OperatorGuard
	handlers Handlers

	metricsPath string
	gatherer    prometheus.Gatherer
}

// NewControlPlaneServer инициализирует HTTP API со всеми зависимостями.
func NewControlPlaneServer(logger *zap.Logger, guard *auth.OperatorGuard, h Handlers, metricsPath string, gatherer prometheus.Gatherer) *ControlPlaneServer {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &ControlPlaneServer{
		router:      chi.NewRouter(),
		logger:      logger.Named("http-api"),
		guard:       guard,
		handlers:    h,
		metricsPath: metricsPath,
		gatherer:    gatherer,
	}

	s.routes()
	return s
}

func (s *ControlPlaneServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(engine.TracingMiddleware)
	r.Use(actorMiddleware)

	// --- 2. Служебные роуты ---
	r.Get("/health", s.handlers.Health.Health)
	r.Handle(s.metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/audit", s.handlers.Audit.GetLogs)

	// --- 3. Реестр и запуск триггеров ---
	r.Route("/triggers", func(r chi.Router) {
		r.Get("/", s.handlers.Triggers.List)
		r.Post("/", s.handlers.Triggers.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handlers.Triggers.Get)
			r.Patch("/", s.handlers.Triggers.Update)
			r.Delete("/", s.handlers.Triggers.Delete)
			r.Post("/start", s.handlers.Triggers.Start)
			r.Post("/simulate", s.handlers.Simulation.Simulate)
			r.Get("/simulation", s.handlers.Simulation.Report)
		})
	})

	// --- 4. Kill-switch: чтение открыто, изменение только операторам ---
	r.Route("/kill-switch", func(r chi.Router) {
		r.Get("/", s.handlers.KillSwitch.Status)
		r.Group(func(r chi.Router) {
			r.Use(s.guard.Middleware)
			r.Post("/global", s.handlers.KillSwitch.SetGlobal)
			r.Post("/triggers/{id}", s.handlers.KillSwitch.SetTrigger)
		})
	})
}

// requestLogger: access log в zap вместо стандартного middleware.Logger.
func (s *ControlPlaneServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// actorMiddleware кладет в контекст инициатора для аудита: оператор или внешний вызывающий.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := r.Header.Get(auth.HeaderOperatorID)
		if actor == "" {
			actor = r.Header.Get("X-Actor")
		}
		if actor != "" {
			r = r.WithContext(audit.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP позволяет использовать ControlPlaneServer как стандартный http.Handler
func (s *ControlPlaneServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
