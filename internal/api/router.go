// Package api wires together all HTTP routes for the GitLab bridge.
//
// Route grouping philosophy:
//   - /health is intentionally ungated. Load balancers and orchestrators probe
//     it without credentials, and it must keep answering while the upstream
//     GitLab instance is down.
//   - /api/v4/ routes carry the full gate: rate limiting, token validation,
//     and a per-route operation check. Each route declares exactly one
//     operation; an operation name without a permission-table entry fails at
//     router construction, not at request time.
//   - /hooks/gitlab authenticates by shared webhook secret instead of an
//     access token, so it carries the webhook chain rather than the API chain.
//
// Requests that clear the gate are forwarded to the upstream GitLab instance
// unmodified, original credentials included. The bridge never rewrites request
// bodies and never caches upstream responses.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gitlab-bridge/gitlab-bridge/internal/audit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/auth"
	"github.com/gitlab-bridge/gitlab-bridge/internal/config"
	"github.com/gitlab-bridge/gitlab-bridge/internal/middleware"
	"github.com/gitlab-bridge/gitlab-bridge/internal/ratelimit"
	"github.com/gitlab-bridge/gitlab-bridge/internal/telemetry"
	"github.com/gitlab-bridge/gitlab-bridge/internal/token"
	"github.com/gitlab-bridge/gitlab-bridge/internal/webhook"
	"github.com/redis/go-redis/v9"
)

// bridgeRoute binds one upstream route to its declared operation. The table
// below is the single place a path acquires gate semantics.
type bridgeRoute struct {
	method string
	path   string
	op     auth.Operation
}

// routes is the static route → operation table for the gated API surface.
var routes = []bridgeRoute{
	{http.MethodGet, "/projects/:id/issues", auth.OpIssuesList},
	{http.MethodPost, "/projects/:id/issues", auth.OpIssuesCreate},
	{http.MethodPut, "/projects/:id/issues/:issue_iid", auth.OpIssuesUpdate},
	{http.MethodGet, "/projects/:id/merge_requests", auth.OpMergeRequestsList},
	{http.MethodPost, "/projects/:id/merge_requests", auth.OpMergeRequestsCreate},
	{http.MethodPost, "/projects/:id/pipeline", auth.OpPipelineTrigger},
	{http.MethodPost, "/projects/:id/pipelines/:pipeline_id/retry", auth.OpPipelineRetry},
	{http.MethodGet, "/projects/:id/repository/files/*filepath", auth.OpRepositoryRead},
	{http.MethodGet, "/projects/:id/repository/tree", auth.OpRepositoryRead},
	{http.MethodPost, "/projects/:id/repository/files/*filepath", auth.OpRepositoryWrite},
	{http.MethodPut, "/projects/:id/repository/files/*filepath", auth.OpRepositoryWrite},
}

// BackgroundServices holds references to background resources that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	stores        []*ratelimit.Store
	recorder      *audit.Recorder
	rdb           *redis.Client
	stopCollector func()
}

// Shutdown stops the limiter sweepers and flushes the audit pipeline. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, s := range bg.stores {
		s.Stop()
	}
	if bg.stopCollector != nil {
		bg.stopCollector()
	}
	if bg.recorder != nil {
		if err := bg.recorder.Close(); err != nil {
			slog.Error("failed to close audit recorder", "error", err)
		}
	}
	if bg.rdb != nil {
		if err := bg.rdb.Close(); err != nil {
			slog.Error("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and everything the gate
// needs at request time: the limiter backends, the token validator, the audit
// pipeline, and the upstream proxy.
func NewRouter(cfg *config.Config) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	bg := &BackgroundServices{}

	recorder, err := newAuditRecorder(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("audit pipeline: %w", err)
	}
	bg.recorder = recorder

	introspector := token.NewGitLabIntrospector(cfg.GitLab.BaseURL, cfg.GitLab.IntrospectionTimeout)
	validator := token.NewValidator(introspector,
		token.WithIntrospectionTimeout(cfg.GitLab.IntrospectionTimeout),
		token.WithExpiryWarningDays(cfg.Gate.Auth.ExpiryWarningDays),
	)

	dangerous := cfg.Gate.Auth.DangerousScopes
	if len(dangerous) == 0 {
		dangerous = token.DefaultDangerousScopes()
	}

	m := &middleware.Composer{
		Validator:       validator,
		Recorder:        recorder,
		DangerousScopes: dangerous,
		LogAccepted:     cfg.Audit.Enabled && cfg.Audit.LogAccepted,
		Webhook: webhook.Config{
			Secret:           cfg.Gate.Webhook.Secret,
			RequireToken:     cfg.Gate.Webhook.RequireToken,
			RequireSignature: cfg.Gate.Webhook.RequireSignature,
		},
	}

	// Per-operation budget overrides, keyed by the operation name the route
	// table declares. Config validation already rejected unknown names. Each
	// override is key-prefixed so budgets stay independent even when the
	// redis backend shares one keyspace across all limiters.
	perRoute := map[auth.Operation]ratelimit.Limiter{}
	if cfg.Gate.RateLimiting.Enabled {
		if cfg.Gate.RateLimiting.KeyStrategy == "ip" {
			m.RateLimitKey = middleware.IPKey
		}
		m.RateLimitNoHeaders = !cfg.Gate.RateLimiting.Headers
		if skip := cfg.Gate.RateLimiting.SkipPaths; len(skip) > 0 {
			skipSet := make(map[string]struct{}, len(skip))
			for _, p := range skip {
				skipSet[p] = struct{}{}
			}
			m.SkipRateLimit = func(c *gin.Context) bool {
				_, ok := skipSet[c.FullPath()]
				return ok
			}
		}
		m.Limiter = newLimiter(cfg, bg, ratelimit.Config{
			Limit:         cfg.Gate.RateLimiting.RequestsPerWindow,
			Window:        cfg.Gate.RateLimiting.Window,
			SweepInterval: cfg.Gate.RateLimiting.SweepInterval,
		}, "default")
		m.WebhookLimiter = ratelimit.KeyPrefix(newLimiter(cfg, bg, ratelimit.WebhookConfig(), "webhook"), "webhook")
		for name, rl := range cfg.Gate.RateLimiting.PerRoute {
			override := newLimiter(cfg, bg, ratelimit.Config{
				Limit:         rl.RequestsPerWindow,
				Window:        rl.Window,
				SweepInterval: cfg.Gate.RateLimiting.SweepInterval,
			}, name)
			perRoute[auth.Operation(name)] = ratelimit.KeyPrefix(override, name)
		}
		if len(bg.stores) > 0 {
			stores := bg.stores
			bg.stopCollector = telemetry.StartRateLimitKeyCollector(func() int {
				total := 0
				for _, s := range stores {
					total += s.KeyCount()
				}
				return total
			})
		}
	}

	proxy, err := newUpstreamProxy(cfg.GitLab.BaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("upstream proxy: %w", err)
	}

	router.Use(m.Base()...)

	router.GET("/health", healthHandler(cfg))

	apiGroup := router.Group("/api/v4", m.API()...)
	for _, r := range routes {
		// A route declaring an operation outside the permission table is a
		// defect that must surface before the server accepts traffic.
		if !auth.KnownOperation(r.op) {
			return nil, nil, fmt.Errorf("route %s %s declares unknown operation %q", r.method, r.path, r.op)
		}
		apiGroup.Handle(r.method, r.path, append(m.Route(r.op, perRoute[r.op]), proxy)...)
	}

	if cfg.Gate.Webhook.Enabled {
		router.POST("/hooks/gitlab", append(m.WebhookChain(), proxy)...)
	}

	return router, bg, nil
}

// newLimiter builds one limiter for the configured backend. The memory
// backend registers its store with bg so the sweeper stops on shutdown; redis
// limiters share the one client and need no per-limiter teardown.
func newLimiter(cfg *config.Config, bg *BackgroundServices, rlc ratelimit.Config, name string) ratelimit.Limiter {
	if cfg.Gate.RateLimiting.Backend == "redis" {
		if bg.rdb == nil {
			bg.rdb = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
		}
		return ratelimit.NewRedisLimiter(bg.rdb, rlc)
	}
	store := ratelimit.NewStore(rlc)
	bg.stores = append(bg.stores, store)
	slog.Debug("rate limiter created", "name", name, "limit", rlc.Limit, "window", rlc.Window)
	return store
}

// newAuditRecorder assembles the shipper fan-out from config. A disabled
// audit section yields a nil-shipper recorder, which drops entries quietly.
func newAuditRecorder(cfg *config.Config) (*audit.Recorder, error) {
	if !cfg.Audit.Enabled {
		return audit.NewRecorder(nil, slog.Default()), nil
	}
	shipper, err := audit.NewMultiShipper(shipperConfigs(cfg.Audit.Shippers), slog.Default())
	if err != nil {
		return nil, err
	}
	return audit.NewRecorder(shipper, slog.Default()), nil
}

// shipperConfigs converts the YAML-facing shipper settings into the audit
// package's config, turning the integer-second fields into durations.
func shipperConfigs(in []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(in))
	for _, sc := range in {
		converted := audit.ShipperConfig{Enabled: sc.Enabled, Type: sc.Type}
		if sc.Webhook != nil {
			converted.Webhook = &audit.WebhookConfig{
				URL:           sc.Webhook.URL,
				Headers:       sc.Webhook.Headers,
				Timeout:       time.Duration(sc.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     sc.Webhook.BatchSize,
				FlushInterval: time.Duration(sc.Webhook.FlushInterval) * time.Second,
			}
		}
		if sc.File != nil {
			converted.File = &audit.FileConfig{
				Path:       sc.File.Path,
				MaxSizeMB:  sc.File.MaxSizeMB,
				MaxBackups: sc.File.MaxBackups,
			}
		}
		out = append(out, converted)
	}
	return out
}

// newUpstreamProxy builds the reverse proxy that forwards gated requests to
// the upstream GitLab instance. Credentials pass through untouched; the
// upstream performs its own authorization on top of the bridge's gate.
func newUpstreamProxy(baseURL string) (gin.HandlerFunc, error) {
	target, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url %q: %w", baseURL, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream url %q must be absolute", baseURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("upstream request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"INTERNAL_ERROR","message":"upstream request failed"}`)
	}

	return func(c *gin.Context) {
		proxy.ServeHTTP(c.Writer, c.Request)
	}, nil
}

// healthHandler answers liveness probes. It deliberately does not call the
// upstream: the bridge is healthy whenever it can gate requests.
func healthHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": cfg.Telemetry.ServiceName,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}
