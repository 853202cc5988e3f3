package control

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/art-tapin/dispatcher-fork/internal/config"
	ctrlmiddleware "github.com/art-tapin/dispatcher-fork/internal/control/middleware"
	"github.com/art-tapin/dispatcher-fork/internal/control/websocket"
	"github.com/art-tapin/dispatcher-fork/internal/events"
)

// Server is the control-plane HTTP surface: liveness, pool introspection,
// cancel-by-uuid, task submission, the websocket event stream and metrics.
type Server struct {
	nodeID    string
	router    *chi.Mux
	config    *config.Config
	handlers  *Handlers
	wsHub     *websocket.Hub
	wsHandler *websocket.Handler
}

// NewServer wires the router. The publisher may be nil, which disables the
// websocket stream (useful in tests without Redis).
func NewServer(cfg *config.Config, p PoolAPI, submit SubmitFunc, publisher *events.RedisPubSub) *Server {
	nodeID := fmt.Sprintf("dispatcher-%s", uuid.New().String()[:8])

	s := &Server{
		nodeID:   nodeID,
		router:   chi.NewRouter(),
		config:   cfg,
		handlers: NewHandlers(nodeID, p, submit),
	}

	if publisher != nil {
		s.wsHub = websocket.NewHub(publisher)
		s.wsHandler = websocket.NewHandler(s.wsHub)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(ctrlmiddleware.RequestLogger())
	s.router.Use(chimiddleware.Recoverer)

	// Heartbeat endpoint for load balancers
	s.router.Use(chimiddleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	authCfg := &ctrlmiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   make(map[string]bool),
	}
	for _, key := range s.config.Auth.APIKeys {
		authCfg.APIKeys[key] = true
	}

	// Submission API
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.AllowContentType("application/json"))
		if s.config.Server.RateLimitRPS > 0 {
			r.Use(ctrlmiddleware.RateLimit(s.config.Server.RateLimitRPS))
		}
		r.Use(ctrlmiddleware.Auth(authCfg))

		r.Post("/tasks", s.handlers.SubmitTask)
	})

	// Control-plane routes
	s.router.Route("/admin", func(r chi.Router) {
		r.Use(ctrlmiddleware.Auth(authCfg))

		r.Get("/alive", s.handlers.Alive)
		r.Get("/pool", s.handlers.GetPool)
		r.Get("/running", s.handlers.Running)

		r.Get("/workers", s.handlers.ListWorkers)
		r.Get("/workers/{workerID}", s.handlers.GetWorker)

		r.Post("/tasks/{taskUUID}/cancel", s.handlers.CancelTask)
	})

	// WebSocket event stream
	if s.wsHandler != nil {
		s.router.Get("/ws", s.wsHandler.ServeWS)
	}

	// Metrics endpoint
	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub
func (s *Server) Start(ctx context.Context) {
	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
	}
}

// Stop stops the WebSocket hub
func (s *Server) Stop() {
	if s.wsHub != nil {
		s.wsHub.Stop()
	}
}

// NodeID returns this dispatcher's control-plane identity.
func (s *Server) NodeID() string {
	return s.nodeID
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
