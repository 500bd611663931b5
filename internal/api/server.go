package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/flexlink-project/flexlink/internal/config"
	"github.com/flexlink-project/flexlink/internal/db"
	"github.com/flexlink-project/flexlink/internal/events"
	intnet "github.com/flexlink-project/flexlink/internal/network"
	"github.com/flexlink-project/flexlink/internal/radio"
	"github.com/flexlink-project/flexlink/internal/telemetry"
	"github.com/flexlink-project/flexlink/internal/util"
)

// Server is the REST API over the live radio model.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	radio    *radio.Radio

	// Optional dependencies
	store   *db.Store
	metrics *telemetry.Metrics

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
	startedAt  time.Time
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, eventBus *events.EventBus, r *radio.Radio) *Server {
	if cfg.GetApplication().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:       cfg,
		eventBus:  eventBus,
		radio:     r,
		startedAt: time.Now(),
	}
}

// SetDependencies injects the store and metrics (called after all components
// are initialized). Either may be nil.
func (s *Server) SetDependencies(store *db.Store, metrics *telemetry.Metrics) {
	s.store = store
	s.metrics = metrics
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetApplication().API
	s.router = s.buildRouter()

	addr := fmt.Sprintf(":%d", apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if apiCfg.TLSEnabled {
		tlsConfig, err := s.tlsConfig(apiCfg)
		if err != nil {
			return err
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", apiCfg.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	return s.serve(ln)
}

func (s *Server) serve(ln net.Listener) error {
	var err error
	if s.httpServer.TLSConfig != nil {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// tlsConfig loads the configured key pair, generating a self-signed one
// first if the files do not exist yet.
func (s *Server) tlsConfig(apiCfg config.APIConfig) (*tls.Config, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	if ip, err := util.GetLocalIP(); err == nil && ip != "" {
		hosts = append(hosts, ip)
	}
	created, err := util.EnsureSelfSignedCert(apiCfg.TLSCertFile, apiCfg.TLSKeyFile, hosts)
	if err != nil {
		return nil, fmt.Errorf("prepare TLS certificate: %w", err)
	}
	if created {
		log.Warn().Str("cert", apiCfg.TLSCertFile).Msg("generated self-signed API certificate")
	}

	cert, err := tls.LoadX509KeyPair(apiCfg.TLSCertFile, apiCfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS certificate: %w", err)
	}

	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}, nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetApplication().API
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/system", s.handleGetSystem)

		// live model
		api.GET("/radio", s.handleGetRadio)
		api.GET("/stats", s.handleGetStats)
		api.GET("/slices", s.handleGetSlices)
		api.GET("/slices/:id", s.handleGetSlice)
		api.GET("/panadapters", s.handleGetPanadapters)
		api.GET("/waterfalls", s.handleGetWaterfalls)
		api.GET("/meters", s.handleGetMeters)
		api.GET("/streams", s.handleGetStreams)
		api.GET("/objects/:kind", s.handleGetObjects)
		api.GET("/events", s.handleEvents)

		// persistence
		api.GET("/messages", s.handleGetMessages)
		api.GET("/filters/:mode", s.handleGetFilters)
		api.PUT("/filters/:mode/:name", s.handleSaveFilter)
		api.DELETE("/filters/:mode/:name", s.handleDeleteFilter)

		// control
		api.POST("/connect", s.handleConnect)
		api.POST("/disconnect", s.handleDisconnect)
		api.POST("/command", s.handleCommand)
		api.POST("/slices/:id/frequency", s.handleTuneSlice)
		api.POST("/slices/:id/filter", s.handleSetSliceFilter)

		// configuration
		api.GET("/config", s.handleGetConfig)
		api.POST("/config/radio", s.handleSetRadioField)
	}

	if s.metrics != nil && s.cfg.GetApplication().Metrics.Enabled {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "flexlink API is running"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
