package server

import (
	"context"
	"net/http"
	"time"

	"github.com/docflowhq/docflow/internal/broker"
	"github.com/docflowhq/docflow/internal/config"
	docsvc "github.com/docflowhq/docflow/internal/documents/service"
	"github.com/docflowhq/docflow/internal/extraction"
	"github.com/docflowhq/docflow/internal/ingest"
	matchersvc "github.com/docflowhq/docflow/internal/matcher/service"
	"github.com/docflowhq/docflow/internal/schedule"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(newEngine),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func newEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log.Named("http")))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

// Server is the operational HTTP surface: upload, queue visibility, and the
// admin triggers for queued maintenance. No auth, no UI; those live behind
// the deployment's gateway.
type Server struct {
	engine      *gin.Engine
	cfg         config.Config
	ingestSvc   *ingest.Service
	coordinator *docsvc.Coordinator
	queue       broker.Queue
	bulk        *ingest.BulkTester
	templates   *extraction.TemplateStore
	reindexer   *matchersvc.Reindexer
	tasks       *schedule.Runner
}

type ServerParams struct {
	fx.In

	Gin         *gin.Engine
	Cfg         config.Config
	IngestSvc   *ingest.Service
	Coordinator *docsvc.Coordinator
	Queue       broker.Queue
	Bulk        *ingest.BulkTester
	Templates   *extraction.TemplateStore
	Reindexer   *matchersvc.Reindexer
	Tasks       *schedule.Runner
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:      p.Gin,
		cfg:         p.Cfg,
		ingestSvc:   p.IngestSvc,
		coordinator: p.Coordinator,
		queue:       p.Queue,
		bulk:        p.Bulk,
		templates:   p.Templates,
		reindexer:   p.Reindexer,
		tasks:       p.Tasks,
	}
}

func registerRoutes(s *Server) {
	v1 := s.engine.Group("/v1")
	{
		files := v1.Group("/files")
		{
			files.POST("", s.UploadFile)
			files.GET("/:id", s.GetFile)
		}

		queues := v1.Group("/queues")
		{
			queues.GET("/:name/counts", s.QueueCounts)
		}

		v1.POST("/bulk-tests", s.StartBulkTest)
		v1.POST("/suppliers/reindex", s.TriggerReindex)
		v1.POST("/tasks/:task", s.TriggerTask)
	}
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
