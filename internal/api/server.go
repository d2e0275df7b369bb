// Package api serves the HTTP API of the service.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/hundesystem/internal/action"
	"github.com/jkaflik/hundesystem/internal/dog"
	"github.com/jkaflik/hundesystem/internal/provision"
	"github.com/jkaflik/hundesystem/internal/status"
)

// Statuses returns the last assessments of a dog.
type Statuses interface {
	Assessments(id dog.ID) map[dog.Suffix]status.Assessment
}

type Presser interface {
	Press(ctx context.Context, d dog.Dog, name string) (action.Result, error)
}

type Provisioner interface {
	Provision(ctx context.Context, d dog.Dog) (*provision.Result, error)
}

// HealthFunc reports a problem of a dependency, or nil.
type HealthFunc func() error

type Options struct {
	Listen string
	// Health checks keyed by dependency name.
	Health map[string]HealthFunc
}

type Server struct {
	dogs        []dog.Dog
	statuses    Statuses
	presser     Presser
	provisioner Provisioner
	opts        Options

	// provisioning holds the dogs with a running provisioning request.
	mu           sync.Mutex
	provisioning map[dog.ID]bool
}

func NewServer(dogs []dog.Dog, statuses Statuses, presser Presser, provisioner Provisioner, opts Options) *Server {
	if opts.Listen == "" {
		opts.Listen = ":8080"
	}
	if gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	return &Server{
		dogs:         dogs,
		statuses:     statuses,
		presser:      presser,
		provisioner:  provisioner,
		opts:         opts,
		provisioning: make(map[dog.ID]bool),
	}
}

// Handler returns the router with every route registered.
func (s *Server) Handler() http.Handler {
	router := gin.New()
	router.Use(requestLogger(), gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/dogs", s.listDogs)

	dogs := api.Group("/dogs/:dog", s.resolveDog)
	dogs.GET("/status", s.dogStatus)
	dogs.POST("/actions/:action", s.pressAction)
	dogs.POST("/provision", s.provision)

	return router
}

// Run serves until ctx is done and shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("listen", s.opts.Listen).Msg("API server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	log.Info().Msg("API server stopped")
	return nil
}

// requestLogger logs every request with zerolog.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status_code", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
