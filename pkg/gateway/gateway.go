// Package gateway exposes a pool over HTTP: POST /commands takes newline
// separated commands, GET /metrics serves Prometheus, GET /live and
// GET /status report health.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"

	"github.com/fluxorio/kvpipe/pkg/core"
	"github.com/fluxorio/kvpipe/pkg/observability/prometheus"
	"github.com/fluxorio/kvpipe/pkg/pipeline"
	"github.com/fluxorio/kvpipe/pkg/source"
)

const maxBodySize = 4 << 20

// Pool is the part of *pipeline.Pool the gateway uses
type Pool interface {
	source.Submitter
	RunID() string
	Pending() int
	WorkerStates() []pipeline.WorkerState
}

// Config configures the gateway
type Config struct {
	Addr string

	// JWTSecret enables HS256 bearer auth on POST /commands when set
	JWTSecret string

	// Metrics records request metrics and backs /metrics; nil disables both
	Metrics  *prometheus.Metrics
	Gatherer promclient.Gatherer

	Logger core.Logger
}

// Gateway is the HTTP ingestion server
type Gateway struct {
	cfg    Config
	pool   Pool
	logger core.Logger
	server *fasthttp.Server
}

func New(cfg Config, pool Pool) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = core.NewNopLogger()
	}
	g := &Gateway{cfg: cfg, pool: pool, logger: cfg.Logger}
	g.server = &fasthttp.Server{
		Handler:            g.Handler(),
		Name:               "kvpipe",
		MaxRequestBodySize: maxBodySize,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
	}
	return g
}

// Name identifies the gateway as an input source
func (g *Gateway) Name() string { return "gateway:" + g.cfg.Addr }

// Handler returns the routed request handler
func (g *Gateway) Handler() fasthttp.RequestHandler {
	commands := g.handleCommands
	if g.cfg.JWTSecret != "" {
		commands = g.requireJWT(commands)
	}

	h := func(ctx *fasthttp.RequestCtx) {
		switch path := string(ctx.Path()); {
		case path == "/commands":
			if !ctx.IsPost() {
				methodNotAllowed(ctx, fasthttp.MethodPost)
				return
			}
			commands(ctx)
		case path == "/live":
			ctx.SetContentType("text/plain; charset=utf-8")
			ctx.SetBodyString("ok")
		case path == "/status":
			g.handleStatus(ctx)
		case path == "/metrics" && g.cfg.Metrics != nil && g.cfg.Gatherer != nil:
			g.cfg.Metrics.UpdateQueue(g.pool.Pending())
			prometheus.Handler(g.cfg.Gatherer)(ctx)
		default:
			writeJSON(ctx, fasthttp.StatusNotFound, map[string]string{"error": "not_found"})
		}
	}

	if g.cfg.Metrics != nil {
		return prometheus.FastHTTPMiddleware(g.cfg.Metrics, h)
	}
	return h
}

// Serve accepts connections on ln until the listener is closed
func (g *Gateway) Serve(ln net.Listener) error {
	g.logger.Infof("gateway listening on %s", ln.Addr())
	return g.server.Serve(ln)
}

// Run listens on cfg.Addr and shuts down gracefully when ctx is done
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen %s: %w", g.cfg.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- g.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.server.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	return <-errCh
}

type acceptedResponse struct {
	First uint64 `json:"first,omitempty"`
	Last  uint64 `json:"last,omitempty"`
	Count int    `json:"count"`
}

func (g *Gateway) handleCommands(ctx *fasthttp.RequestCtx) {
	batch, err := source.SubmitLines(g.pool, ctx.PostBody())
	switch {
	case err == nil:
		writeJSON(ctx, fasthttp.StatusAccepted, acceptedResponse{First: batch.First, Last: batch.Last, Count: batch.Count})
	case errors.Is(err, pipeline.ErrQueueClosed):
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]any{"error": "shutting_down", "accepted": batch.Count})
	case errors.Is(err, pipeline.ErrQueueFull):
		ctx.Response.Header.Set("Retry-After", "1")
		writeJSON(ctx, fasthttp.StatusTooManyRequests, map[string]any{"error": "queue_full", "accepted": batch.Count})
	default:
		g.logger.Errorf("gateway submit: %v", err)
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"error": "internal"})
	}
}

type statusResponse struct {
	RunID   string   `json:"run_id"`
	Pending int      `json:"pending"`
	Workers []string `json:"workers"`
}

func (g *Gateway) handleStatus(ctx *fasthttp.RequestCtx) {
	states := g.pool.WorkerStates()
	resp := statusResponse{
		RunID:   g.pool.RunID(),
		Pending: g.pool.Pending(),
		Workers: make([]string, len(states)),
	}
	for i, s := range states {
		resp.Workers[i] = s.String()
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (g *Gateway) requireJWT(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	secret := []byte(g.cfg.JWTSecret)
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return secret, nil
	}

	return func(ctx *fasthttp.RequestCtx) {
		header := string(ctx.Request.Header.Peek(fasthttp.HeaderAuthorization))
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			unauthorized(ctx)
			return
		}

		token, err := jwt.Parse(tokenString, keyFunc, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			g.logger.Debugf("gateway auth: %v", err)
			unauthorized(ctx)
			return
		}
		next(ctx)
	}
}

func unauthorized(ctx *fasthttp.RequestCtx) {
	ctx.Response.Header.Set("WWW-Authenticate", `Bearer realm="kvpipe", error="invalid_token"`)
	writeJSON(ctx, fasthttp.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

func methodNotAllowed(ctx *fasthttp.RequestCtx, allow string) {
	ctx.Response.Header.Set("Allow", allow)
	writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]string{"error": "method_not_allowed"})
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	if err := json.NewEncoder(ctx).Encode(v); err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	}
}
