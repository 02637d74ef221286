// Package webd is the HTTP/websocket collaborator surface: it feeds
// raw fixes into per-user recording sessions and mirrors their outputs
// (live metrics, run records, checkpoints) back out. It holds no
// recording logic of its own.
package webd

import (
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/olahol/melody"
	"github.com/strideworks/trackd/params"
	"github.com/strideworks/trackd/session"
	"github.com/strideworks/trackd/state"
	"github.com/strideworks/trackd/types/fix"
)

type WebDaemon struct {
	Config *params.WebDaemonConfig

	logger         *slog.Logger
	melodyInstance *melody.Melody
	store          *state.Store

	mu       sync.Mutex
	sessions map[string]*userSession
}

// userSession binds one user's live session to its push source and
// ingest dedupe.
type userSession struct {
	sess   *session.Session
	src    *session.PushSource
	dedupe func(f fix.Fix) bool
}

func NewWebDaemon(config *params.WebDaemonConfig) (*WebDaemon, error) {
	if config == nil {
		config = params.DefaultWebDaemonConfig()
	}
	store, err := state.NewStore(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("webd state store: %w", err)
	}
	return &WebDaemon{
		Config:   config,
		logger:   slog.With("d", "web"),
		store:    store,
		sessions: make(map[string]*userSession),
	}, nil
}

// Run listens on the configured network and address (tcp by default,
// unix sockets work too) and serves the router, returning any server
// error.
func (s *WebDaemon) Run() error {
	listener, err := net.Listen(s.Config.Network, s.Config.Address)
	if err != nil {
		return fmt.Errorf("webd listen %s %s: %w", s.Config.Network, s.Config.Address, err)
	}
	log.Printf("Starting web daemon on %s %s", s.Config.Network, s.Config.Address)
	return http.Serve(listener, s.NewRouter())
}

func (s *WebDaemon) Close() error {
	s.mu.Lock()
	for _, us := range s.sessions {
		us.sess.Close()
	}
	s.mu.Unlock()
	return s.store.Close()
}

func (s *WebDaemon) NewRouter() *mux.Router {
	// Handle websocket.
	s.initMelody()
	s.watchStoredRuns()

	router := mux.NewRouter().StrictSlash(false)
	router.Use(loggingMiddleware)

	router.Path("/sorun").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = s.melodyInstance.HandleRequest(w, r)
	})

	apiRoutes := router.NewRoute().Subrouter()

	// All API routes use permissive CORS settings.
	apiRoutes.Use(permissiveCorsMiddleware)

	// /ping is a simple server healthcheck endpoint
	apiRoutes.Path("/ping").HandlerFunc(pingPong)

	apiJSONRoutes := apiRoutes.NewRoute().Subrouter()
	jsonMiddleware := contentTypeMiddlewareFunc("application/json")
	apiJSONRoutes.Use(jsonMiddleware)

	apiJSONRoutes.Path("/last").HandlerFunc(s.handleLastKnown).Methods(http.MethodGet)
	apiJSONRoutes.Path("/runs").HandlerFunc(s.handleListRuns).Methods(http.MethodGet)
	apiJSONRoutes.Path("/session/metrics").HandlerFunc(s.handleMetrics).Methods(http.MethodGet)
	apiJSONRoutes.Path("/session/checkpoint").HandlerFunc(s.handleCheckpoint).Methods(http.MethodGet)
	apiJSONRoutes.Path("/session/recoverable").HandlerFunc(s.handleRecoverable).Methods(http.MethodGet)

	authenticatedAPIRoutes := apiJSONRoutes.NewRoute().Subrouter()
	authenticatedAPIRoutes.Use(tokenAuthenticationMiddleware)

	authenticatedAPIRoutes.Path("/session/start").HandlerFunc(s.handleStart).Methods(http.MethodPost)
	authenticatedAPIRoutes.Path("/session/force-begin").HandlerFunc(s.handleForceBegin).Methods(http.MethodPost)
	authenticatedAPIRoutes.Path("/session/pause").HandlerFunc(s.handlePause).Methods(http.MethodPost)
	authenticatedAPIRoutes.Path("/session/resume").HandlerFunc(s.handleResume).Methods(http.MethodPost)
	authenticatedAPIRoutes.Path("/session/suspend").HandlerFunc(s.handleSuspend).Methods(http.MethodPost)
	authenticatedAPIRoutes.Path("/session/stop").HandlerFunc(s.handleStop).Methods(http.MethodPost)

	populateRoutes := authenticatedAPIRoutes.NewRoute().Subrouter()
	populateRoutes.Path("/populate/").HandlerFunc(s.handlePopulate).Methods(http.MethodPost)
	populateRoutes.Path("/populate").HandlerFunc(s.handlePopulate).Methods(http.MethodPost)

	return router
}
