package server

import (
	"net/http"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/roomrelay/internal/view"
)

// RegisterRoutes sets up the routes owned by the server itself. Module
// routes are mounted when the modules boot.
func (s *Server) RegisterRoutes() {
	s.E.GET("/", s.statusPage)
	s.E.GET(view.FragmentPath, s.statusFragment)

	s.E.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	s.E.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{
		Gatherer: s.prom,
	}))
}

func (s *Server) status() view.Status {
	return view.Status{
		Rooms:       s.store.Len(),
		Users:       s.presence.UserCount(),
		Connections: s.conns.LiveCount(),
	}
}

func (s *Server) statusPage(c echo.Context) error {
	return s.renderer.RenderPage(c, http.StatusOK, view.StatusPage(s.status()))
}

func (s *Server) statusFragment(c echo.Context) error {
	return s.renderer.RenderPage(c, http.StatusOK, view.StatusFragment(s.status()))
}
