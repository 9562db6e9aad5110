// internal/browser/context.go
package browser

import "context"

// CombineContext returns a context that carries the values of sessionCtx (the
// chromedp target) and is canceled when either sessionCtx or opCtx is done.
// chromedp resolves its target from context values, so operations must run on
// the session context while honoring the caller's deadline.
func CombineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancelCause(sessionCtx)
	stop := context.AfterFunc(opCtx, func() {
		cancel(context.Cause(opCtx))
	})
	return combined, func() {
		stop()
		cancel(context.Canceled)
	}
}
