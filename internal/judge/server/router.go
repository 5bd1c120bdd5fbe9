// Package server exposes the judge over HTTP: submission intake, status
// polling, a websocket status stream and the contest leaderboard.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Config holds HTTP server settings.
type Config struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`

	// AdminSecret signs admin bearer tokens. Empty disables admin views.
	AdminSecret string `yaml:"adminSecret"`
}

// DefaultConfig returns server settings for local use.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewRouter builds the gin engine with all judge routes attached.
func NewRouter(cfg Config, ctrl *JudgeController) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(TraceMiddleware())
	router.Use(RequestLogger())

	router.GET("/health", ctrl.Health)

	api := router.Group("/api/v1")
	api.Use(AdminMiddleware(cfg.AdminSecret))
	api.POST("/submissions", ctrl.Create)
	api.GET("/submissions/:id", ctrl.GetStatus)
	api.GET("/submissions/:id/events", ctrl.StreamStatus)
	api.GET("/contests/:id/leaderboard", ctrl.Leaderboard)

	return router
}

// NewHTTPServer wraps the router in an http.Server with the configured
// timeouts. The websocket stream relies on WriteTimeout being generous.
func NewHTTPServer(cfg Config, ctrl *JudgeController) *http.Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewRouter(cfg, ctrl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
