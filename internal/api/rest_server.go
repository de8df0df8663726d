// Package api REST-интерфейс библиотеки записей.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/slp-replay/internal/app"
	"github.com/annel0/slp-replay/internal/auth"
	"github.com/annel0/slp-replay/internal/eventbus"
	"github.com/annel0/slp-replay/internal/logging"
	"github.com/annel0/slp-replay/internal/middleware"
)

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	library    *app.Library
	bus        eventbus.EventBus
	auth       *auth.Authenticator
	authOn     bool
	maxUpload  int64
	metrics    *ServerMetrics
	prom       *middleware.PrometheusMiddleware
	httpServer *http.Server
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port    int
	Library *app.Library
	// Bus источник событий для /api/events; nil: эндпоинт отключён
	Bus eventbus.EventBus
	// Auth nil или AuthRequired=false: запись без токена
	Auth         *auth.Authenticator
	AuthRequired bool
	MaxUpload    int64
	Registerer   prometheus.Registerer
	Gatherer     prometheus.Gatherer
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.Library == nil {
		return nil, errors.New("rest: library is required")
	}
	if cfg.AuthRequired && cfg.Auth == nil {
		return nil, errors.New("rest: auth required but no authenticator")
	}
	if cfg.Port == 0 {
		cfg.Port = 8088
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = 32 << 20
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	// otelgin раньше логгера: trace-ID берётся из span
	router.Use(otelgin.Middleware("slp-replay"))
	router.Use(middleware.NewRequestLogger().Handler())

	prom := middleware.NewPrometheusMiddleware("slp_replay", cfg.Registerer, cfg.Gatherer)
	router.Use(prom.Handler())
	prom.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:    router,
		library:   cfg.Library,
		bus:       cfg.Bus,
		auth:      cfg.Auth,
		authOn:    cfg.AuthRequired,
		maxUpload: cfg.MaxUpload,
		metrics:   NewServerMetrics(),
		prom:      prom,
	}
	rs.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.setupRoutes()
	return rs, nil
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Expose-Headers", middleware.TraceHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	api := rs.router.Group("/api")
	{
		api.GET("/replays", rs.handleList)
		api.GET("/replays/:id", rs.handleGet)
		api.GET("/replays/:id/stats", rs.handleStats)
		api.GET("/replays/:id/raw", rs.handleRaw)
		api.POST("/replays", rs.requireScope(auth.ScopeWrite), rs.handleUpload)
		api.DELETE("/replays/:id", rs.requireScope(auth.ScopeAdmin), rs.handleDelete)
		if rs.bus != nil {
			api.GET("/events", rs.handleEvents)
		}
	}

	rs.router.GET("/health", rs.handleHealth)
}

// Handler для httptest
func (rs *RestServer) Handler() http.Handler {
	return rs.router
}

// Start блокируется до Stop или ошибки прослушивания
func (rs *RestServer) Start() error {
	logging.Info("🌐 REST API listening on %s", rs.httpServer.Addr)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop graceful shutdown; открытые websocket закрываются по ctx
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: msg})
}
