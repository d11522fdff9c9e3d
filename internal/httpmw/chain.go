package httpmw

import "net/http"

type Middleware = func(http.Handler) http.Handler

// Chain wraps h so mws[0] is outermost. nil entries are skipped, which lets
// callers drop optional middleware inline.
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}
