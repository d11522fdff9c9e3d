package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/diary/internal/health"
	"github.com/keithlinneman/diary/internal/httpmw"
	"github.com/keithlinneman/diary/internal/log"
	"github.com/keithlinneman/diary/internal/version"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe
	ClientIPOpts httpmw.ClientIPOptions
	Build        version.Info

	// Routes mounts the application routes, see api.Server.RegisterRoutes
	Routes func(chi.Router)
}
