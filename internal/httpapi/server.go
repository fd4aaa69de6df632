// Package httpapi serves the ladder facade over HTTP with fasthttp.
package httpapi

import (
	"context"
	"crypto/subtle"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/park285/pvp-ladder/internal/domain"
	"github.com/park285/pvp-ladder/internal/metrics"
	"github.com/park285/pvp-ladder/internal/msgcat"
	"github.com/park285/pvp-ladder/internal/service/ladder"
)

const (
	HeaderActorID    = "X-Actor-Id"
	HeaderAdminToken = "X-Admin-Token"

	defaultRequestTimeout = 10 * time.Second
)

type Options struct {
	// AdminToken grants admin rights to requests carrying it. Empty disables admin.
	AdminToken     string
	Catalog        *msgcat.Catalog
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

type handlerFunc func(ctx context.Context, rc *fasthttp.RequestCtx, actor ladder.Actor) (any, error)

type route struct {
	status int
	fn     handlerFunc
}

type Server struct {
	svc     *ladder.Service
	opts    Options
	log     *zap.Logger
	routes  map[string]route
	metrics fasthttp.RequestHandler
	srv     *fasthttp.Server
}

func New(svc *ladder.Service, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{svc: svc, opts: opts, log: opts.Logger}
	if opts.Metrics != nil {
		s.metrics = fasthttpadaptor.NewFastHTTPHandler(opts.Metrics.Handler())
	}
	s.routes = map[string]route{
		"POST /v1/players/register": {fasthttp.StatusCreated, s.register},
		"POST /v1/players/remove":   {fasthttp.StatusOK, s.remove},
		"GET /v1/bans":              {fasthttp.StatusOK, s.listBans},
		"POST /v1/bans":             {fasthttp.StatusCreated, s.ban},
		"POST /v1/bans/remove":      {fasthttp.StatusOK, s.unban},
		"POST /v1/stats/edit":       {fasthttp.StatusOK, s.editStats},
		"POST /v1/stats/reset":      {fasthttp.StatusOK, s.resetStats},
		"POST /v1/matches":          {fasthttp.StatusCreated, s.reportMatch},
		"POST /v1/duels":            {fasthttp.StatusCreated, s.proposeDuel},
		"GET /v1/duels":             {fasthttp.StatusOK, s.pendingDuels},
		"GET /v1/stats":             {fasthttp.StatusOK, s.stats},
		"GET /v1/leaderboard":       {fasthttp.StatusOK, s.leaderboard},
		"GET /v1/history":           {fasthttp.StatusOK, s.history},
		"POST /v1/admin/wipe":       {fasthttp.StatusOK, s.wipe},
	}
	return s
}

// Handler returns the root request handler.
func (s *Server) Handler() fasthttp.RequestHandler { return s.serve }

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &fasthttp.Server{
		Handler:      s.serve,
		Name:         "pvp-ladder",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	s.log.Info("http_listen", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) serve(rc *fasthttp.RequestCtx) {
	path := string(rc.Path())
	method := string(rc.Method())

	switch path {
	case "/healthz":
		s.healthz(rc)
		return
	case "/metrics":
		if s.metrics == nil {
			rc.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		s.metrics(rc)
		return
	}

	r, ok := s.routes[method+" "+path]
	if !ok {
		r, ok = s.duelRoute(method, path)
	}
	if !ok {
		s.writeError(rc, domain.Errorf(domain.CodeNotFound, "no route for %s %s", method, path))
		return
	}

	actor, err := s.actor(rc)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.RequestTimeout)
	defer cancel()

	body, err := r.fn(ctx, rc, actor)
	if err != nil {
		s.writeError(rc, err)
		return
	}
	writeJSON(rc, r.status, body)
}

// duelRoute matches /v1/duels/{id} and its respond and resolve actions.
func (s *Server) duelRoute(method, path string) (route, bool) {
	rest, ok := strings.CutPrefix(path, "/v1/duels/")
	if !ok || rest == "" {
		return route{}, false
	}
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		return route{}, false
	}
	switch {
	case method == fasthttp.MethodGet && action == "":
		return route{fasthttp.StatusOK, s.getDuel(id)}, true
	case method == fasthttp.MethodPost && action == "respond":
		return route{fasthttp.StatusOK, s.respondDuel(id)}, true
	case method == fasthttp.MethodPost && action == "resolve":
		return route{fasthttp.StatusOK, s.resolveDuel(id)}, true
	}
	return route{}, false
}

func (s *Server) actor(rc *fasthttp.RequestCtx) (ladder.Actor, error) {
	var a ladder.Actor
	if raw := strings.TrimSpace(string(rc.Request.Header.Peek(HeaderActorID))); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return a, domain.Errorf(domain.CodeInvalidArgument, "%s must be a positive integer", HeaderActorID)
		}
		a.ID = id
	}
	token := rc.Request.Header.Peek(HeaderAdminToken)
	if s.opts.AdminToken != "" && len(token) > 0 &&
		subtle.ConstantTimeCompare(token, []byte(s.opts.AdminToken)) == 1 {
		a.Admin = true
	}
	return a, nil
}

func (s *Server) healthz(rc *fasthttp.RequestCtx) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.svc.Ping(ctx); err != nil {
		s.log.Warn("healthz_fail", zap.Error(err))
		writeJSON(rc, fasthttp.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(rc, fasthttp.StatusOK, map[string]string{"status": "ok"})
}
