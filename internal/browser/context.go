package browser

import (
	"context"
)

// CombineContext returns a context that carries the values of session (the
// chromedp tab context) and is cancelled when either session or op is.
// chromedp looks up its target in the context values, so an operation's
// deadline has to be grafted onto the session context rather than the other
// way around.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(session)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
