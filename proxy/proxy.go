// Package proxy implements the rate-limited forward proxy of spec §6: a
// reusable collaborator sitting in front of paid RPC, described only at its
// interface by spec.md (§1 Non-goals: "does not contain the hard
// engineering of the core"). Grounded on the teacher's net/http + router
// server pattern (cmd/xchainserver/main.go: a package-level handler set
// wired onto a router, a JSON request/response body, an env-configured
// listen address) and the teacher's direct go-chi/chi/v5 dependency used
// here for routing instead of that file's gorilla/mux, to additionally
// exercise the pack's own chi dependency.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateMode selects which token bucket a request draws from (spec §6
// "Limiting modes: per_ip | global | none"): one bucket per client IP, one
// shared bucket, or no limiting. What happens when the bucket is empty is
// chosen separately by Behavior.
type RateMode string

const (
	ModePerIP   RateMode = "per_ip"
	ModeGlobal  RateMode = "global"
	ModeNone    RateMode = "none"
)

// Behavior selects wait-vs-immediate handling (spec §5 "Proxy collaborator
// concurrency").
type Behavior string

const (
	BehaviorWait      Behavior = "wait"
	BehaviorImmediate Behavior = "immediate"
)

// Config configures a Proxy (spec §6 "Environment variables (proxy):
// UPSTREAM_URL, LISTEN_ADDR, RATE_MODE").
type Config struct {
	UpstreamURL string
	RateMode    RateMode
	Behavior    Behavior
	Burst       int           // tokens per window, per bucket
	Window      time.Duration // window width
	WaitTimeout time.Duration // caps total suspension in wait mode (spec §5)
	Logger      *logrus.Logger
}

func (c *Config) setDefaults() {
	if c.RateMode == "" {
		c.RateMode = ModePerIP
	}
	if c.Behavior == "" {
		c.Behavior = BehaviorWait
	}
	if c.Burst <= 0 {
		c.Burst = 40
	}
	if c.Window <= 0 {
		c.Window = 10 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
}

// Proxy is the forward proxy: POST / forwards JSON-RPC to the configured
// upstream, GET /health reports liveness, GET /metrics exposes Prometheus
// counters (spec §6).
type Proxy struct {
	cfg      Config
	client   *http.Client
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	global   *rate.Limiter
	registry *prometheus.Registry

	reqTotal      prometheus.Counter
	rateLimited   prometheus.Counter
	upstreamError prometheus.Counter
}

// New builds a Proxy and its chi router. Metrics are registered on a
// per-Proxy registry rather than the global default one, so multiple Proxy
// instances (one per listener, or one per test case) never collide.
func New(cfg Config) *Proxy {
	cfg.setDefaults()
	every := cfg.Window / time.Duration(cfg.Burst)
	registry := prometheus.NewRegistry()
	p := &Proxy{
		cfg:      cfg,
		client:   &http.Client{Timeout: 15 * time.Second},
		buckets:  make(map[string]*rate.Limiter),
		global:   rate.NewLimiter(rate.Every(every), cfg.Burst),
		registry: registry,
		reqTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_requests_total", Help: "Total forwarded JSON-RPC requests.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_rate_limited_total", Help: "Requests rejected or delayed by rate limiting.",
		}),
		upstreamError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "proxy_upstream_errors_total", Help: "Upstream request failures.",
		}),
	}
	registry.MustRegister(p.reqTotal, p.rateLimited, p.upstreamError)
	return p
}

// Router builds the chi router exposing POST /, GET /health, GET /metrics.
func (p *Proxy) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/", p.handleForward)
	r.Get("/health", p.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	return r
}

func (p *Proxy) limiterFor(clientIP string) *rate.Limiter {
	switch p.cfg.RateMode {
	case ModeNone:
		return nil
	case ModeGlobal:
		return p.global
	default: // ModePerIP
		p.mu.Lock()
		defer p.mu.Unlock()
		l, ok := p.buckets[clientIP]
		if !ok {
			every := p.cfg.Window / time.Duration(p.cfg.Burst)
			l = rate.NewLimiter(rate.Every(every), p.cfg.Burst)
			p.buckets[clientIP] = l
		}
		return l
	}
}

// rateLimitEnvelope is the JSON-RPC error body spec §6 mandates on 429:
// {code: -32005, message, data:{retry_after_seconds}}.
type rateLimitEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		RetryAfterSeconds int `json:"retry_after_seconds"`
	} `json:"data"`
}

func (p *Proxy) handleForward(w http.ResponseWriter, r *http.Request) {
	p.reqTotal.Inc()
	setCORS(w)

	clientIP := clientIPOf(r)
	limiter := p.limiterFor(clientIP)
	if limiter != nil {
		if !limiter.Allow() {
			if p.cfg.Behavior == BehaviorImmediate {
				p.respondRateLimited(w, 1)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), p.cfg.WaitTimeout)
			defer cancel()
			if err := limiter.Wait(ctx); err != nil {
				p.respondRateLimited(w, int(p.cfg.WaitTimeout.Seconds()))
				return
			}
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.cfg.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "build upstream request", http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.upstreamError.Inc()
		p.cfg.Logger.Warnf("proxy: upstream request failed: %v", err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}

func (p *Proxy) respondRateLimited(w http.ResponseWriter, retryAfterSeconds int) {
	p.rateLimited.Inc()
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	env := rateLimitEnvelope{Code: -32005, Message: "rate limit exceeded"}
	env.Data.RetryAfterSeconds = retryAfterSeconds
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": env})
}

func (p *Proxy) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Retry-After")
}

func clientIPOf(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
