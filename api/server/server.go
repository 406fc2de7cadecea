package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/containerd/log"
	"github.com/gorilla/mux"

	"github.com/questionpy-org/questionpy-server/api/server/httpstatus"
	"github.com/questionpy-org/questionpy-server/api/server/httputils"
	"github.com/questionpy-org/questionpy-server/api/server/middleware"
	"github.com/questionpy-org/questionpy-server/api/server/router"
)

// Server hosts the HTTP API.
type Server struct {
	middlewares []middleware.Middleware
	routers     []router.Router
	srv         *http.Server
}

// New returns a server with the standard middleware chain installed.
func New() *Server {
	return &Server{
		middlewares: []middleware.Middleware{middleware.RequestIDMiddleware},
	}
}

// UseMiddleware appends a middleware to the chain. Middlewares run in the
// order they were added, outermost first.
func (s *Server) UseMiddleware(m middleware.Middleware) {
	s.middlewares = append(s.middlewares, m)
}

// InitRouter adds routers to the server.
func (s *Server) InitRouter(routers ...router.Router) {
	s.routers = append(s.routers, routers...)
}

// makeHTTPHandler runs the middleware chain and owns the error surface:
// whatever a handler returns, the client sees a status code and a typed
// error body decided in one place.
func (s *Server) makeHTTPHandler(handler httputils.APIFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handlerFunc := handler
		for _, m := range s.middlewares {
			handlerFunc = m(handlerFunc)
		}

		ctx := r.Context()
		vars := mux.Vars(r)
		if vars == nil {
			vars = make(map[string]string)
		}
		if err := handlerFunc(ctx, w, r, vars); err != nil {
			code, body := httpstatus.FromError(err)
			if code >= http.StatusInternalServerError {
				log.G(ctx).WithError(err).Error("request failed")
			} else {
				log.G(ctx).WithError(err).Debug("request rejected")
			}
			_ = httputils.WriteJSON(w, code, body)
		}
	}
}

// CreateMux builds the request multiplexer from the registered routers.
func (s *Server) CreateMux() *mux.Router {
	m := mux.NewRouter()
	for _, apiRouter := range s.routers {
		for _, r := range apiRouter.Routes() {
			m.Path(r.Path()).Methods(r.Method()).Handler(s.makeHTTPHandler(r.Handler()))
		}
	}
	m.NotFoundHandler = http.NotFoundHandler()
	return m
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.CreateMux(),
		ReadHeaderTimeout: 30 * time.Second,
	}
	err := s.srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
