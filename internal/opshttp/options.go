package opshttp

import (
	"net/http"

	"github.com/keithlinneman/diary/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// OnPanic is called after a recovered panic, main wires the panic counter here
	OnPanic func()
}
