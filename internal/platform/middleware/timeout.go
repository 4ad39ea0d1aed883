package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/medqueue/medqueue/pkg/response"
)

// RequestTimeout sets a context deadline on each request and answers 504 when
// the handler gives up with context.DeadlineExceeded. The handler runs on the
// request goroutine, so Recovery registered before it still sees panics. The
// websocket endpoint is excluded.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	if timeout <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	return echomw.ContextTimeoutWithConfig(echomw.ContextTimeoutConfig{
		Timeout: timeout,
		Skipper: func(c echo.Context) bool {
			return isWebSocketPath(c.Request().URL.Path)
		},
		ErrorHandler: func(err error, c echo.Context) error {
			if !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if c.Response().Committed {
				return nil
			}
			return response.Fail(c, http.StatusGatewayTimeout, "request processing exceeded the allowed time limit", nil)
		},
	})
}

func isWebSocketPath(path string) bool {
	return path == "/ws" || strings.HasPrefix(path, "/ws/")
}
