// Package router serves one HTTP request per connection: it renders the
// plant pages or upgrades the connection to a WebSocket session.
package router

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gobwas/pool/pbufio"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/plantwatch/ws"
	"github.com/plantwatch/ws/internal/observability"
	"github.com/plantwatch/ws/plant"
	"github.com/plantwatch/ws/session"
)

// Route names returned by Match.
const (
	RouteUpgrade  = "upgrade"
	RouteHome     = "home"
	RoutePlant    = "plant"
	RoutePlants   = "plants"
	RouteFavicon  = "favicon"
	RouteNotFound = "not_found"
)

const (
	DefaultReadTimeout = 10 * time.Second

	readBufferSize = 4096
)

// Option configures Router.
type Option func(*Router)

// WithLogger sets the logger for requests and upgraded sessions.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithMetrics sets the collectors for requests and sessions.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithReadTimeout bounds reading of the request head.
func WithReadTimeout(d time.Duration) Option {
	return func(r *Router) { r.readTimeout = d }
}

// WithRegistry sets the registry upgraded sessions are tracked in.
func WithRegistry(reg *session.Registry) Option {
	return func(r *Router) { r.sessions = reg }
}

// WithSessionOptions sets options applied to every upgraded session.
func WithSessionOptions(opts ...session.Option) Option {
	return func(r *Router) { r.sessionOpts = opts }
}

// Router dispatches connections by their request line.
type Router struct {
	mux         *mux.Router
	repo        plant.Repository
	sessions    *session.Registry
	sessionOpts []session.Option
	readTimeout time.Duration

	log     zerolog.Logger
	metrics *observability.Metrics
}

// New creates router rendering pages from repo. The repository is shared by
// all requests and sessions.
func New(repo plant.Repository, opts ...Option) *Router {
	r := &Router{
		repo:        repo,
		readTimeout: DefaultReadTimeout,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sessions == nil {
		r.sessions = session.NewRegistry()
	}

	m := mux.NewRouter()
	m.NewRoute().Name(RouteUpgrade).
		Methods(http.MethodGet).
		PathPrefix("/ws").
		MatcherFunc(wantsUpgrade)
	m.NewRoute().Name(RouteHome).Methods(http.MethodGet).Path("/")
	m.NewRoute().Name(RoutePlant).Methods(http.MethodGet).Path("/plant/{id:[0-9]+}")
	m.NewRoute().Name(RoutePlants).Methods(http.MethodGet).Path("/plants")
	m.NewRoute().Name(RouteFavicon).Methods(http.MethodGet).Path("/favicon.ico")
	r.mux = m

	return r
}

// Sessions returns the registry of upgraded sessions.
func (r *Router) Sessions() *session.Registry { return r.sessions }

func wantsUpgrade(req *http.Request, _ *mux.RouteMatch) bool {
	return ws.IsUpgradeRequest(ws.Request{
		Header: ws.RequestHeader{"upgrade": req.Header.Get("Upgrade")},
	})
}

// Match returns the name of the route req belongs to with the variables
// captured from its path. Paths are matched exactly, so /plant/15 is the
// device 15 page and /plant/1x is not found.
func (r *Router) Match(req ws.Request) (string, map[string]string) {
	hr := &http.Request{
		Method:     req.Method,
		URL:        &url.URL{Path: req.Path},
		RequestURI: req.URI,
		Host:       req.Header.Get("host"),
		Header:     make(http.Header, len(req.Header)),
	}
	for k, v := range req.Header {
		hr.Header.Set(k, v)
	}

	var m mux.RouteMatch
	if !r.mux.Match(hr, &m) || m.MatchErr != nil || m.Route == nil {
		return RouteNotFound, nil
	}
	return m.Route.GetName(), m.Vars
}

// ServeConn reads one request from conn and answers it. The connection is
// closed before ServeConn returns unless it was upgraded; an upgraded
// connection belongs to its session, which runs until ctx is done or
// either side closes it.
func (r *Router) ServeConn(ctx context.Context, conn net.Conn) {
	r.metrics.Connection()
	log := r.log.With().Str("remote", remoteAddr(conn)).Logger()

	if r.readTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(r.readTimeout))
	}
	br := pbufio.GetReader(conn, readBufferSize)

	req, err := ws.ReadRequest(br)
	if err != nil {
		pbufio.PutReader(br)
		conn.Close()
		if errors.Is(err, ws.ErrNoRequest) {
			log.Debug().Msg("connection closed without request")
		} else {
			log.Warn().Err(err).Msg("read request")
		}
		return
	}

	route, vars := r.Match(req)
	log = log.With().
		Str("method", req.Method).
		Str("path", req.Path).
		Str("route", route).
		Logger()

	if route == RouteUpgrade {
		r.upgrade(ctx, conn, br, req, log)
		return
	}
	pbufio.PutReader(br)
	defer conn.Close()

	resp := r.render(ctx, route, vars, log)
	if err := writeResponse(conn, resp); err != nil {
		log.Warn().Err(err).Msg("write response")
		return
	}
	r.metrics.Request(route, resp.status)
	log.Info().Int("status", resp.status).Msg("request served")
}

// upgrade performs the handshake and starts a session. It takes ownership
// of conn and br.
func (r *Router) upgrade(ctx context.Context, conn net.Conn, br *bufio.Reader, req ws.Request, log zerolog.Logger) {
	conn.SetReadDeadline(time.Time{})

	bw := pbufio.GetWriter(conn, 512)
	hs, err := ws.Upgrade(bw, req)
	pbufio.PutWriter(bw)
	if err != nil {
		r.metrics.Request(RouteUpgrade, http.StatusBadRequest)
		log.Warn().Err(err).Msg("handshake failed")
		pbufio.PutReader(br)
		conn.Close()
		return
	}
	r.metrics.Request(RouteUpgrade, http.StatusSwitchingProtocols)

	opts := make([]session.Option, 0, len(r.sessionOpts)+2)
	opts = append(opts, session.WithLogger(r.log), session.WithMetrics(r.metrics))
	opts = append(opts, r.sessionOpts...)
	s := session.New(conn, br, r.repo, opts...)

	exts := make([]string, 0, len(hs.Extensions))
	for _, opt := range hs.Extensions {
		exts = append(exts, string(opt.Name))
	}
	log.Info().
		Str("session", s.ID().String()).
		Str("version", hs.Version).
		Strs("protocols", hs.Protocols).
		Strs("extensions", exts).
		Msg("connection upgraded")

	err = r.sessions.Start(ctx, s, func(err error) {
		pbufio.PutReader(br)
		if err != nil {
			log.Debug().Err(err).Str("session", s.ID().String()).Msg("session finished")
		}
	})
	if err != nil {
		log.Error().Err(err).Str("session", s.ID().String()).Msg("start session")
		pbufio.PutReader(br)
		conn.Close()
	}
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
