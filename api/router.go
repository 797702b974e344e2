// Package api serves passlog over HTTP+JSON.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"

	"passlog/config"
	"passlog/events"
	"passlog/ingest"
	"passlog/logger"
	"passlog/pager"
	"passlog/store"
)

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	store     *store.Store
	pager     *pager.Pager
	ingest    *ingest.Service
	broker    *events.Broker
	heartbeat time.Duration
}

// NewServer wires the handlers. heartbeat is the ping interval of watch streams.
func NewServer(st *store.Store, p *pager.Pager, svc *ingest.Service, broker *events.Broker, heartbeat time.Duration) *Server {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Server{
		store:     st,
		pager:     p,
		ingest:    svc,
		broker:    broker,
		heartbeat: heartbeat,
	}
}

// Routes returns the gin engine with every route registered.
func (s *Server) Routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	v1 := r.Group("/v1")

	v1.GET("/suites", s.listSuites)
	v1.POST("/suites", s.startSuite)
	v1.GET("/suites/:id", s.getSuite)
	v1.PATCH("/suites/:id", s.updateSuite)
	v1.DELETE("/suites/:id", s.deleteSuite)
	v1.GET("/suites/:id/cases", s.listCases)
	v1.GET("/suites/:id/summary", s.getSuiteSummary)

	v1.POST("/cases", s.createCase)
	v1.GET("/cases/:id", s.getCase)
	v1.PATCH("/cases/:id", s.updateCase)
	v1.GET("/cases/:id/logs", s.listLogLines)
	v1.POST("/cases/:id/logs", s.appendLog)

	v1.GET("/logs/:id", s.getLogLine)

	v1.GET("/attachments", s.listAttachments)
	v1.POST("/attachments", s.createAttachment)
	v1.GET("/attachments/:id", s.getAttachment)
	v1.DELETE("/attachments/:id", s.deleteAttachment)

	return r
}

// Handler returns the routes wrapped in the CORS policy.
func (s *Server) Handler(cors config.CORSConfig) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(cors.AllowedOrigins),
		handlers.AllowedMethods(cors.AllowedMethods),
		handlers.AllowedHeaders(cors.AllowedHeaders),
	)(s.Routes())
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := logger.Logger.Debug()
		if status >= http.StatusInternalServerError {
			ev = logger.Logger.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
