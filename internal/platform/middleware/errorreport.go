package middleware

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/labstack/echo/v4"

	"github.com/Vikaumar/Prescripto/internal/platform/auth"
)

// ErrorReport sends errors that end in a 5xx response to Sentry. It is a
// no-op until sentry.Init has installed a client.
func ErrorReport() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil || sentry.CurrentHub().Client() == nil {
				return err
			}

			status := http.StatusInternalServerError
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			}
			if status < 500 {
				return err
			}

			reported := err
			if he != nil && he.Internal != nil {
				reported = he.Internal
			}
			hub := sentry.CurrentHub().Clone()
			hub.WithScope(func(scope *sentry.Scope) {
				rid, _ := c.Get("request_id").(string)
				scope.SetTag("request_id", rid)
				scope.SetTag("route", c.Path())
				scope.SetUser(sentry.User{ID: auth.UserIDFromContext(c.Request().Context())})
				scope.SetRequest(c.Request())
				hub.CaptureException(reported)
			})
			return err
		}
	}
}
