package middleware

import (
	"fmt"
	"net/http"

	"github.com/fernandofuc/tistis-platform-sub016/api/responses"
	pkgerrors "github.com/fernandofuc/tistis-platform-sub016/pkg/errors"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

// Recoverer converts handler panics into the standard error envelope.
// The telephony provider retries a webhook on a dropped connection, so
// a panicking handler still has to answer with a well-formed body. The
// method and path land in the log to tie the panic to a route.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("panic: %v", rec)
					ctx := r.Context()
					if logg != nil {
						ctx = logg.WithFields(ctx, map[string]any{
							"panic":  rec,
							"method": r.Method,
							"path":   r.URL.Path,
						})
						logg.Error(ctx, "panic.recovered", err)
					}
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
