package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"solar-estimator/internal/chat"
	"solar-estimator/internal/collector"
	"solar-estimator/internal/estimator"
	"solar-estimator/internal/inverter"
	"solar-estimator/internal/site"
	"solar-estimator/internal/storage"
	"solar-estimator/internal/upstream"
)

// History persists computed estimates.
type History interface {
	SaveEstimate(ctx context.Context, res *estimator.Result, label string) (*storage.EstimateRecord, error)
	GetEstimate(ctx context.Context, id string) (*storage.EstimateRecord, *estimator.Result, error)
	ListEstimates(ctx context.Context, siteKey string, limit int) ([]storage.EstimateRecord, error)
	GetEstimatesByRange(ctx context.Context, siteKey string, from, to time.Time) ([]storage.EstimateRecord, error)
	GetSiteStats(ctx context.Context, siteKey string) (*storage.SiteEnergyStats, error)
}

type Meter interface {
	Read(ctx context.Context) (*inverter.Reading, error)
}

// Broker is the telemetry connection reported by the health check.
type Broker interface {
	IsConnected() bool
}

// ArrayDefaults fill in the array fields a request leaves out.
type ArrayDefaults struct {
	Model            string
	CapacityKW       float64
	PerformanceRatio float64
}

type Server struct {
	router    *gin.Engine
	server    *http.Server
	estimator *estimator.Service
	resolver  site.Resolver
	catalog   *site.Catalog
	history   History
	collector *collector.Collector
	chat      *chat.Client
	meter     Meter
	broker    Broker
	upstreams []*upstream.Client
	defaults  ArrayDefaults
	port      int
	log       *zap.Logger
	now       func() time.Time
}

type ServerConfig struct {
	Port      int
	Estimator *estimator.Service
	Resolver  site.Resolver
	Catalog   *site.Catalog
	History   History
	Collector *collector.Collector
	Chat      *chat.Client
	Meter     Meter
	Broker    Broker
	Upstreams []*upstream.Client
	Defaults  ArrayDefaults
	Logger    *zap.Logger
}

func NewServer(cfg ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)
	useFormNames()
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))

	s := &Server{
		router:    router,
		estimator: cfg.Estimator,
		resolver:  cfg.Resolver,
		catalog:   cfg.Catalog,
		history:   cfg.History,
		collector: cfg.Collector,
		chat:      cfg.Chat,
		meter:     cfg.Meter,
		broker:    cfg.Broker,
		upstreams: cfg.Upstreams,
		defaults:  cfg.Defaults,
		port:      cfg.Port,
		log:       cfg.Logger,
		now:       time.Now,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)

	api := s.router.Group("/api/v1")
	{
		api.GET("/panels", s.panelsHandler)
		api.GET("/resolve", s.resolveHandler)
		api.GET("/estimate", s.estimateHandler)
		api.POST("/estimate", s.estimateHandler)
		api.GET("/irradiance", s.irradianceHandler)
		api.GET("/statistics", s.statisticsHandler)
		api.GET("/maintenance", s.maintenanceHandler)
		api.GET("/co2", s.co2Handler)
		api.POST("/chat", s.chatHandler)

		api.GET("/estimates", s.listEstimatesHandler)
		api.GET("/estimates/stats", s.estimateStatsHandler)
		api.GET("/estimates/:id", s.getEstimateHandler)
		api.GET("/sites/latest", s.latestSitesHandler)
		api.GET("/inverter", s.inverterHandler)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("API server starting", zap.Int("port", s.port))
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("Request failed", append(fields, zap.String("error", c.Errors.String()))...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Info("Request rejected", fields...)
		default:
			log.Debug("Request served", fields...)
		}
	}
}
