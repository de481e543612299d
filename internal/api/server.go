// Package api is the HTTP surface: channel ingestion, agent conversation
// endpoints, and the widget event stream. Handlers are thin adapters that
// translate wire formats into core calls; all rules live below this layer.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/replydesk/internal/channels"
	"github.com/replydesk/internal/conversation"
	"github.com/replydesk/internal/directory"
	"github.com/replydesk/internal/dispatch"
	"github.com/replydesk/internal/jobqueue"
	"github.com/replydesk/internal/realtime"
)

// Enqueuer is the job-queue surface the handlers need.
type Enqueuer interface {
	EnqueueGenerateReply(ctx context.Context, args jobqueue.GenerateReplyArgs) error
	EnqueueIntervention(ctx context.Context, args jobqueue.SendInterventionArgs) error
	EnqueueEscalationNotice(ctx context.Context, args jobqueue.SendEscalationNoticeArgs) error
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int

	convo       *conversation.Service
	store       conversation.Store
	dir         directory.Directory
	dispatcher  *dispatch.Dispatcher
	queue       Enqueuer
	broadcaster *realtime.Broadcaster
	jwtSecret   []byte
}

// NewServer creates a new API server
func NewServer(port int, convo *conversation.Service, store conversation.Store, dir directory.Directory, dispatcher *dispatch.Dispatcher, queue Enqueuer, broadcaster *realtime.Broadcaster, jwtSecret string) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:        e,
		port:        port,
		convo:       convo,
		store:       store,
		dir:         dir,
		dispatcher:  dispatcher,
		queue:       queue,
		broadcaster: broadcaster,
		jwtSecret:   []byte(jwtSecret),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	// Channel ingestion. Public endpoints, so rate-limited per client IP.
	ingest := v1.Group("/ingest", middleware.RateLimiter(
		middleware.NewRateLimiterMemoryStore(rate.Limit(20)),
	))
	ingest.POST("/email", s.ingestInbound(channels.ChannelEmail))
	ingest.POST("/whatsapp", s.ingestInbound(channels.ChannelWhatsApp))
	ingest.POST("/webhook", s.ingestInbound(channels.ChannelWebhook))

	// Widget: message post plus the live event stream, keyed by session id.
	widget := v1.Group("/widget")
	widget.POST("/:session/messages", s.postWidgetMessage, middleware.RateLimiter(
		middleware.NewRateLimiterMemoryStore(rate.Limit(20)),
	))
	widget.GET("/:session/stream", s.streamWidgetEvents)

	// Agent endpoints behind JWT bearer auth.
	agent := v1.Group("", s.requireAgent)
	agent.GET("/threads/:id/messages", s.listMessages)
	agent.POST("/threads/:id/messages", s.postAgentMessage)
	agent.POST("/messages/:id/read", s.markRead)
	agent.POST("/cases/:id/intervention", s.triggerIntervention)
	agent.POST("/cases/:id/escalation-notice", s.triggerEscalationNotice)
}

// Start begins the API server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
