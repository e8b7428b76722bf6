// Package admin serves health, readiness, status and metrics for a
// running client.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/edgelink/internal/auth"
	"github.com/danmuck/edgelink/internal/gateway"
	"github.com/danmuck/edgelink/internal/observability"
	"github.com/danmuck/edgelink/internal/protocol/session"
	"github.com/danmuck/edgelink/internal/rest"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const version = "0.1.0"

// StatusSource reports the gateway session state.
type StatusSource interface {
	Status() gateway.Status
}

// BucketSource reports the dispatcher's rate-limit table.
type BucketSource interface {
	Snapshot() map[string]rest.Bucket
}

type Config struct {
	Addr        string
	Name        string
	CorsOrigins []string
	// StatusToken guards /status. Empty denies every request.
	StatusToken string
	Logger      *zerolog.Logger
}

type Server struct {
	cfg     Config
	router  *gin.Engine
	gateway StatusSource
	buckets BucketSource
	started time.Time
	log     zerolog.Logger
}

func New(cfg Config, gw StatusSource, buckets BucketSource) *Server {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:9400"
	}
	if cfg.Name == "" {
		cfg.Name = "edgelink"
	}
	logger := observability.Component("admin")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger, "/health", "/ready", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(cfg.Name))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		router:  r,
		gateway: gw,
		buckets: buckets,
		started: time.Now(),
		log:     logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"name":    s.cfg.Name,
			"version": version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		state := s.gatewayState()
		status := http.StatusOK
		if state != session.StateActive {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready": state == session.StateActive,
			"state": state.String(),
		})
	})

	s.router.GET("/status", auth.RequireBearer(auth.StaticToken{Token: s.cfg.StatusToken}), func(c *gin.Context) {
		body := gin.H{
			"name":    s.cfg.Name,
			"version": version,
			"uptime":  time.Since(s.started).String(),
		}
		if s.gateway != nil {
			body["gateway"] = s.gateway.Status()
		}
		if s.buckets != nil {
			body["buckets"] = s.buckets.Snapshot()
		}
		c.JSON(http.StatusOK, body)
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) gatewayState() session.State {
	if s.gateway == nil {
		return session.StateDisconnected
	}
	return s.gateway.Status().State
}

// Serve listens on cfg.Addr until ctx ends, then drains for up to five
// seconds.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("admin listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info().Msg("admin stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
