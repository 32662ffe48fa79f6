package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/www"
	"github.com/go-chi/httprate"
	"github.com/julienschmidt/httprouter"
)

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	handle := func(method, route string, h httprouter.Handle) {
		if s.config.RequestsPerMinute <= 0 {
			www.Handle(s.Log, router, method, route, h)
			return
		}
		limited := httprate.Limit(s.config.RequestsPerMinute, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP))
		www.Handle(s.Log, router, method, route, func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
			limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h(w, r, params)
			})).ServeHTTP(w, r)
		})
	}

	handle("GET", "/api/status", s.httpStatus)
	handle("GET", "/api/resolutions", s.httpResolutions)
	handle("POST", "/api/session/start", s.httpSessionStart)
	handle("POST", "/api/session/stop", s.httpSessionStop)
	handle("POST", "/api/session/restart", s.httpSessionRestart)
	handle("POST", "/api/source", s.httpSetSource)
	handle("POST", "/api/file", s.httpSelectFile)
	handle("POST", "/api/resolution/:res", s.httpSetResolution)
	handle("POST", "/api/confidence", s.httpSetConfidence)
	handle("GET", "/api/frame/latest", s.httpLatestFrame)
	handle("GET", "/api/events", s.httpEvents)

	// Prometheus scrapes are not rate limited
	router.Handler("GET", "/metrics", s.Metrics.Handler())

	s.httpRouter = router
}
