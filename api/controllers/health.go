package controllers

import (
	"context"
	"net/http"

	"github.com/fernandofuc/tistis-platform-sub016/api/responses"
	pkgerrors "github.com/fernandofuc/tistis-platform-sub016/pkg/errors"
	"github.com/fernandofuc/tistis-platform-sub016/pkg/logger"
)

// Pinger is any dependency that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthLive reports process liveness only.
func HealthLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}

// HealthReady checks the backing stores the gateway cannot serve
// without. Pingers are probed in order and the first failure is
// reported.
func HealthReady(logg *logger.Logger, dbP Pinger, redisP Pinger) http.HandlerFunc {
	deps := []struct {
		name string
		dep  Pinger
	}{
		{"postgres", dbP},
		{"redis", redisP},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for _, d := range deps {
			if d.dep == nil {
				continue
			}
			if err := d.dep.Ping(ctx); err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, d.name+" unavailable"))
				return
			}
		}
		responses.WriteSuccess(w, map[string]string{"status": "ready"})
	}
}
