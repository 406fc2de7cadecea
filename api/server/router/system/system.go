package system

import (
	"context"
	"net/http"

	metrics "github.com/docker/go-metrics"

	"github.com/questionpy-org/questionpy-server/api/server/httputils"
	"github.com/questionpy-org/questionpy-server/api/server/router"
	"github.com/questionpy-org/questionpy-server/api/types"
)

// Backend reports the server-level state the system routes expose.
type Backend interface {
	SystemStatus() types.ServerStatus
}

type systemRouter struct {
	backend Backend
	routes  []router.Route
}

// NewRouter initializes a new system router.
func NewRouter(backend Backend) router.Router {
	r := &systemRouter{backend: backend}
	r.routes = []router.Route{
		router.NewGetRoute("/status", r.getStatus),
		router.NewGetRoute("/metrics", prometheusHandler),
	}
	return r
}

func (s *systemRouter) Routes() []router.Route {
	return s.routes
}

func (s *systemRouter) getStatus(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	return httputils.WriteJSON(w, http.StatusOK, s.backend.SystemStatus())
}

func prometheusHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, vars map[string]string) error {
	metrics.Handler().ServeHTTP(w, r)
	return nil
}
