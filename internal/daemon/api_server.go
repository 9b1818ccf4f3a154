package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"scribe/internal/api"
	"scribe/internal/callback"
	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/ratelimit"
	"scribe/internal/services"
)

const maxCallbackBody = 32 << 20

type apiServer struct {
	bind   string
	cfg    *config.Config
	logger *slog.Logger
	daemon *Daemon
	engine *gin.Engine

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Server.Bind),
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "api"),
		daemon: d,
		engine: engine,
	}
	engine.Use(gin.Recovery(), srv.requestLogger())

	apiGroup := engine.Group("/api", authMiddleware(cfg.Server.APIToken))
	apiGroup.POST("/pipelines", srv.handleSubmit)
	apiGroup.GET("/pipelines", srv.handleList)
	apiGroup.GET("/pipelines/:id", srv.handleStatus)
	apiGroup.POST("/ratelimit/:key/consume", srv.handleConsume)
	apiGroup.GET("/ratelimit/:key", srv.handleLimiterState)
	apiGroup.DELETE("/ratelimit/:key", srv.handleLimiterReset)
	apiGroup.GET("/health", srv.handleHealth)

	engine.POST("/callbacks/:provider/:pipelineId", srv.handleCallback)

	srv.server = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.stop()
	}()
	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *apiServer) address() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

func (s *apiServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			logging.String("method", c.Request.Method),
			logging.String("path", c.FullPath()),
			logging.Int("status", c.Writer.Status()),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *apiServer) handleSubmit(c *gin.Context) {
	var req api.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, services.Wrap(services.ErrValidation, "api", "submit", "invalid request body", err))
		return
	}
	ctx := c.Request.Context()
	if limit := s.cfg.RateLimit; limit.SubmitMaxInWindow > 0 && strings.TrimSpace(req.UserID) != "" {
		key := "submit:" + strings.TrimSpace(req.UserID)
		if err := s.daemon.limiter.CheckAndConsume(ctx, key, limit.SubmitWindowMillis, limit.SubmitMaxInWindow); err != nil {
			s.writeError(c, err)
			return
		}
	}
	view, err := s.daemon.coord.Submit(ctx, req.PipelineID, req.UserID, req.AudioURL)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, api.FromStatusState(view))
}

func (s *apiServer) handleStatus(c *gin.Context) {
	view, err := s.daemon.coord.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.FromStatusState(view))
}

func (s *apiServer) handleList(c *gin.Context) {
	var filter pipeline.Filter
	for _, value := range c.QueryArray("status") {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := pipeline.ParseStatus(part)
			if !ok {
				s.writeError(c, services.Wrap(services.ErrValidation, "api", "list", fmt.Sprintf("unknown status %q", part), nil))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	filter.UserID = strings.TrimSpace(c.Query("userId"))
	states, err := s.daemon.coord.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.PipelineListResponse{Items: api.FromStates(states)})
}

func (s *apiServer) handleConsume(c *gin.Context) {
	var req api.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, services.Wrap(services.ErrValidation, "api", "consume", "invalid request body", err))
		return
	}
	if err := s.daemon.limiter.CheckAndConsume(c.Request.Context(), c.Param("key"), req.WindowMs, req.MaxInWindow); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) handleLimiterState(c *gin.Context) {
	key := c.Param("key")
	st, _, err := s.daemon.limiter.State(c.Request.Context(), key)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.FromLimiterState(key, st))
}

func (s *apiServer) handleLimiterReset(c *gin.Context) {
	if err := s.daemon.limiter.Reset(c.Request.Context(), c.Param("key")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *apiServer) handleHealth(c *gin.Context) {
	health := s.daemon.Health(c.Request.Context())
	code := http.StatusOK
	if !health.Store.OK {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, health)
}

func (s *apiServer) handleCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		s.writeError(c, services.Wrap(services.ErrValidation, "api", "callback", "read body", err))
		return
	}
	outcome, err := s.daemon.router.Route(c.Request.Context(), callback.Delivery{
		Provider:   c.Param("provider"),
		PipelineID: c.Param("pipelineId"),
		Token:      c.Query("token"),
		Body:       body,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": string(outcome)})
}

func (s *apiServer) writeError(c *gin.Context, err error) {
	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		c.Header("Retry-After", fmt.Sprintf("%d", int64((exceeded.RetryAfter+time.Second-1)/time.Second)))
		c.AbortWithStatusJSON(exceeded.Code(), api.ErrorResponse{
			Error:      exceeded.Error(),
			Code:       "rate_limited",
			RetryAfter: exceeded.RetryAfter.Milliseconds(),
		})
		return
	}
	status := services.HTTPStatus(err)
	resp := api.ErrorResponse{Error: err.Error()}
	switch {
	case errors.Is(err, services.ErrValidation):
		resp.Code = "invalid_request"
	case errors.Is(err, services.ErrNotFound):
		resp.Code = "not_found"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.String("path", c.FullPath()),
			logging.Error(err),
			logging.String(logging.FieldEventType, "api_request_failed"),
			logging.String(logging.FieldErrorHint, "check store connectivity"),
		)
	}
	c.AbortWithStatusJSON(status, resp)
}
