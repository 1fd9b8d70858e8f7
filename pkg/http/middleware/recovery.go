package middleware

import (
	"fmt"
	"net/http"
	"runtime"

	applogger "QuantPipe/pkg/logger"

	"github.com/labstack/echo/v4"
)

const stackSize = 8 << 10

// Recover turns a handler panic into a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http can drop the connection.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				if r == http.ErrAbortHandler {
					panic(r)
				}
				stack := make([]byte, stackSize)
				stack = stack[:runtime.Stack(stack, false)]
				l.Error("http handler panic",
					applogger.String("panic", fmt.Sprint(r)),
					applogger.String("route", c.Path()),
					applogger.String("request_id", RequestIDFrom(c)),
					applogger.String("stack", string(stack)),
				)
				if c.Response().Committed {
					return
				}
				err = c.JSON(http.StatusInternalServerError, echo.Map{
					"status":  http.StatusInternalServerError,
					"message": http.StatusText(http.StatusInternalServerError),
				})
			}()
			return next(c)
		}
	}
}
