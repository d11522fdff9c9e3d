// Package xerrors adds call-site information to errors for the logger, and
// client-safe status/message pairs for the API layer.
package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }

// callers skips runtime.Callers, callers itself and skip more frames
func callers(skip int) []uintptr {
	pcs := make([]uintptr, 64)
	return pcs[:runtime.Callers(2+skip, pcs)]
}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	if runtime.Callers(2+skip, pcs[:]) == 0 {
		return 0
	}
	return pcs[0]
}

// WithStack records the full caller stack on err
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: callers(1)}
}

// EnsureTrace is WithStack unless something in the chain already carries a stack
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return &withStack{err: err, pcs: callers(1)}
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error { return w.err }
func (w *wrap) PC() uintptr   { return w.pc }

// Wrap prefixes err with msg and records only the calling frame
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

func New(msg string) error {
	return &withStack{err: errors.New(msg), pcs: callers(1)}
}

func Newf(format string, args ...any) error {
	return &withStack{err: fmt.Errorf(format, args...), pcs: callers(1)}
}

// public marks an error as safe to show to API clients. Error() still returns
// the internal chain for logs, the client only ever sees msg.
type public struct {
	err    error
	status int
	msg    string
}

func (p *public) Error() string { return p.err.Error() }
func (p *public) Unwrap() error { return p.err }

// Public attaches an HTTP status and a client-facing message to err.
// A nil err becomes an error carrying msg.
func Public(err error, status int, msg string) error {
	if err == nil {
		err = errors.New(msg)
	}
	return &public{err: err, status: status, msg: msg}
}

// StatusOf returns the status of the outermost Public error in the chain, or 500
func StatusOf(err error) int {
	var p *public
	if errors.As(err, &p) {
		return p.status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the client-facing message for err. Errors that were never
// marked Public get the generic status text so internals do not leak.
func MessageOf(err error) string {
	var p *public
	if errors.As(err, &p) {
		return p.msg
	}
	return http.StatusText(http.StatusInternalServerError)
}
