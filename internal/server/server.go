package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/devexec/internal/auth"
	"github.com/danmuck/devexec/internal/config"
	"github.com/danmuck/devexec/internal/device"
	"github.com/danmuck/devexec/internal/observability"
	"github.com/danmuck/devexec/internal/shell"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownGrace = 5 * time.Second

// FeatureSource reports device features.
type FeatureSource interface {
	Features(ctx context.Context, serial string) (device.FeatureSet, error)
}

type Options struct {
	Addr        string
	Token       string
	CorsOrigins []string
	Defaults    config.ExecConfig
}

// Server is the HTTP control surface over an Executor.
type Server struct {
	opts     Options
	exec     *shell.Executor
	devices  FeatureSource
	router   *gin.Engine
	log      zerolog.Logger
	appeared time.Time
}

func New(opts Options, exec *shell.Executor, devices FeatureSource) *Server {
	observability.RegisterMetrics()
	logger := observability.ComponentLogger("server")

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestTelemetry(logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(opts.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		opts:     opts,
		exec:     exec,
		devices:  devices,
		router:   r,
		log:      logger,
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info().Str("addr", s.opts.Addr).Msg("server.Run listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	if strings.TrimSpace(s.opts.Token) == "" {
		s.log.Warn().Msg("server: no token configured, device routes are unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}
	return auth.Middleware(auth.StaticToken{Token: s.opts.Token})
}
