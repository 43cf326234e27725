package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/metabolic-panel/internal/platform/fhir"
)

// RequestTimeout sets a context deadline on each request. If the handler
// has not finished by then, a 503 with an OperationOutcome body is returned
// and the handler's context is cancelled. Report generation honours the
// cancelled context, so an abandoned submission stores no artifact.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if ctx.Err() == context.DeadlineExceeded {
					return timeoutError(c)
				}
				// Client went away.
				return ctx.Err()
			}
		}
	}
}

func timeoutError(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	return c.JSON(http.StatusServiceUnavailable, fhir.TimeoutOutcome())
}
