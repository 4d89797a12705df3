package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"kgrag/backend/internal/app"
	"kgrag/backend/internal/ingest"
	"kgrag/backend/internal/session"
	"kgrag/backend/internal/state"
	"kgrag/backend/pkg/config"
	"kgrag/backend/pkg/logger"
)

type questionAnswerer interface {
	Invoke(ctx context.Context, question string, history []state.Turn) (string, error)
}

type ingester interface {
	Run(ctx context.Context, topic string) (ingest.Result, error)
}

type tripleSampler interface {
	SampleTriples(ctx context.Context, limit int) ([]state.Triple, error)
}

type server struct {
	chain        questionAnswerer
	pipeline     ingester
	graph        tripleSampler
	sessions     *session.Store
	defaultTopic string
	log          *zap.Logger
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	ctx := context.Background()
	application, err := app.New(ctx, cfg, "kgrag-server")
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}
	defer application.Close(context.Background())

	// Populate the graph once before serving; a populated graph is left alone
	if res, err := application.Pipeline.Run(ctx, cfg.WikiTopic); err != nil {
		log.Fatal("Ingestion failed", zap.Error(err))
	} else {
		log.Info("Ingestion done", zap.Bool("skipped", res.Skipped), zap.Duration("duration", res.Duration))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &server{
		chain:        application.Chain,
		pipeline:     application.Pipeline,
		graph:        application.Repo,
		sessions:     application.Sessions,
		defaultTopic: cfg.WikiTopic,
		log:          log,
	}
	router := s.routes()

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

func (s *server) routes() *gin.Engine {
	router := gin.New()
	router.Use(ginLogger(s.log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/chat", s.handleChat)
		api.DELETE("/sessions/:id", s.handleClearSession)
		api.POST("/ingest", s.handleIngest)
		api.GET("/graph", s.handleGraph)
	}
	return router
}

// handleChat answers a question within an optional session. A missing
// session id starts a new conversation.
func (s *server) handleChat(c *gin.Context) {
	var req struct {
		Question  string `json:"question" binding:"required"`
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question must not be blank"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = session.NewID()
	}

	answer, err := s.chain.Invoke(c.Request.Context(), req.Question, s.sessions.History(sessionID))
	if err != nil {
		s.log.Error("Failed to answer question", zap.String("session_id", sessionID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to answer question"})
		return
	}
	s.sessions.Append(sessionID, req.Question, answer)

	c.JSON(http.StatusOK, gin.H{
		"answer":     answer,
		"session_id": sessionID,
	})
}

func (s *server) handleClearSession(c *gin.Context) {
	if !s.sessions.Clear(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}

func (s *server) handleIngest(c *gin.Context) {
	var req struct {
		Topic string `json:"topic"`
	}
	// An empty body means the default topic
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = s.defaultTopic
	}

	res, err := s.pipeline.Run(c.Request.Context(), topic)
	if err != nil {
		s.log.Error("Ingestion failed", zap.String("topic", topic), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingestion failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) handleGraph(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	triples, err := s.graph.SampleTriples(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("Failed to sample graph", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read graph"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"triples": triples})
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
