package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"huddle.org/internal/auth"
	"huddle.org/internal/obs"
)

// ReadyProbe checks the external collaborators behind the service.
type ReadyProbe struct {
	DB    *sql.DB
	Redis redis.Cmdable
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// API is the HTTP layer over the credential service and admission guard.
type API struct {
	mux     *http.ServeMux
	probe   ReadyProbe
	version string
	svc     *auth.Service
	guard   *auth.Guard
	rules   *auth.RouteRules
}

// New wires routes, their admission rules, and the operational endpoints.
func New(svc *auth.Service, guard *auth.Guard, probe ReadyProbe, version string) *API {
	a := &API{
		mux:     http.NewServeMux(),
		probe:   probe,
		version: version,
		svc:     svc,
		guard:   guard,
		rules:   auth.NewRouteRules(),
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.Handle("/metrics", obs.Handler())

	a.routes()

	return a
}

// Handler returns the full middleware-wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

// handle registers a route together with its admission rule. The mux pattern
// doubles as the route identifier looked up at dispatch time.
func (a *API) handle(routeID string, rule auth.RouteRule, h http.HandlerFunc) {
	a.rules.Register(routeID, rule)
	a.mux.Handle(routeID, a.admit(routeID, h))
}

// admit runs the guard chain before the handler. Rejections short-circuit:
// no handler logic runs after a login- or permission-stage rejection.
func (a *API) admit(routeID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule := a.rules.Lookup(routeID)
		adm := a.guard.Admit(rule, r.Header.Get("Authorization"))
		if !adm.Admitted {
			obs.ObserveAdmissionRejected(string(adm.Kind))
			status := http.StatusUnauthorized
			if adm.Kind == auth.RejectForbidden {
				status = http.StatusForbidden
			}
			writeError(w, status, adm.Message)
			return
		}
		if adm.Principal != nil {
			r = r.WithContext(auth.ContextWithPrincipal(r.Context(), *adm.Principal))
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "huddle-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.probe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "huddle-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
