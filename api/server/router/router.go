package router

import "github.com/questionpy-org/questionpy-server/api/server/httputils"

// Router is a collection of routes one subsystem contributes to the server.
type Router interface {
	Routes() []Route
}

// Route describes one endpoint.
type Route interface {
	Handler() httputils.APIFunc
	Method() string
	Path() string
}

type route struct {
	method  string
	path    string
	handler httputils.APIFunc
}

func (r route) Handler() httputils.APIFunc { return r.handler }
func (r route) Method() string             { return r.method }
func (r route) Path() string               { return r.path }

// NewGetRoute initializes a new route with the http method GET.
func NewGetRoute(path string, handler httputils.APIFunc) Route {
	return route{method: "GET", path: path, handler: handler}
}

// NewPostRoute initializes a new route with the http method POST.
func NewPostRoute(path string, handler httputils.APIFunc) Route {
	return route{method: "POST", path: path, handler: handler}
}
