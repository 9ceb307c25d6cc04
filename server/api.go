package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lexcodex/researchbot/experts"
	"github.com/lexcodex/researchbot/framework"
	"github.com/lexcodex/researchbot/persistence"
)

// ChatService is the part of experts.ChatEngine the API needs.
type ChatService interface {
	Process(ctx context.Context, req experts.Request) (*experts.Response, error)
	Stream(ctx context.Context, req experts.Request, sink func(string)) (*experts.Response, error)
	History(ctx context.Context, conversationID string) ([]framework.Message, error)
	ClearHistory(ctx context.Context, conversationID string) error
	Conversations(ctx context.Context) ([]string, error)
	Current() experts.Info
	Available() []experts.Info
	Info(t experts.Type) (experts.Info, error)
	Switch(t experts.Type) error
}

// APIServer exposes the chat engine over HTTP.
type APIServer struct {
	Chat ChatService
	// Documents receives uploads for retrieval; nil disables the endpoint.
	Documents      persistence.DocumentStore
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// Serve starts listening on the provided address.
func (s *APIServer) Serve(addr string) error {
	return s.ServeContext(context.Background(), addr)
}

// ServeContext allows the caller to control shutdown via context cancellation.
func (s *APIServer) ServeContext(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger().Info("API listening", zap.String("addr", addr))
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Handler builds the gin engine with every route registered.
func (s *APIServer) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestLogger(s.logger()), gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.POST("/chat/stream", s.handleChatStream)

	v1.GET("/conversations", s.handleListConversations)
	v1.GET("/conversations/:id", s.handleGetConversation)
	v1.DELETE("/conversations/:id", s.handleClearConversation)

	v1.GET("/experts/current", s.handleCurrentExpert)
	v1.GET("/experts/available", s.handleAvailableExperts)
	v1.POST("/experts/switch", s.handleSwitchExpert)
	v1.GET("/experts/:type/info", s.handleExpertInfo)

	v1.POST("/documents", s.handleAddDocuments)
	return router
}

func (s *APIServer) logger() *zap.Logger {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	return s.Logger
}

func (s *APIServer) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	timeout := s.RequestTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return context.WithTimeout(c.Request.Context(), timeout)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
