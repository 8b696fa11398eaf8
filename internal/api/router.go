package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"campusvote/internal/auth"
	"campusvote/internal/election"
	"campusvote/internal/httpmiddleware"
)

// ResultsCache holds recently computed tallies.
type ResultsCache interface {
	Get(ctx context.Context, electionID string) (election.Tally, bool, error)
	Put(ctx context.Context, t election.Tally) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configures the router.
type Options struct {
	Service         *election.Service
	Cache           ResultsCache
	Logger          *zap.Logger
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RateLimitPerMin int
	Health          map[string]HealthCheck
	Metrics         http.Handler
}

// Handler serves the REST API.
type Handler struct {
	svc    *election.Service
	cache  ResultsCache
	logger *zap.Logger
	auth   *auth.Verifier
	opts   Options
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = promhttp.Handler()
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 30 * time.Minute
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 120
	}
	h := &Handler{
		svc:    opts.Service,
		cache:  opts.Cache,
		logger: opts.Logger,
		auth:   auth.NewVerifier(opts.JWTSigningKey, opts.JWTIssuer),
		opts:   opts,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(opts.Logger, "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS())
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(opts.Metrics))
	r.GET("/healthz", h.health)

	limiter := httpmiddleware.NewTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin, h.callerKey)
	v1 := r.Group("/v1", limiter.GinMiddleware())
	v1.POST("/auth/voter", h.voterLogin)

	admin := v1.Group("", h.auth.Require(auth.RoleAdmin))
	anyone := v1.Group("", h.auth.Require(auth.RoleAdmin, auth.RoleVoter))
	voter := v1.Group("", h.auth.Require(auth.RoleVoter))

	admin.POST("/positions", h.createPosition)
	admin.GET("/positions", h.listPositions)
	admin.DELETE("/positions/:id", h.deletePosition)
	admin.POST("/candidates", h.createCandidate)
	admin.GET("/candidates", h.listCandidates)
	admin.DELETE("/candidates/:id", h.deleteCandidate)
	admin.POST("/voters", h.registerVoter)
	admin.GET("/voters/:id", h.getVoter)

	admin.POST("/elections", h.createElection)
	admin.GET("/elections", h.listElections)
	for _, a := range election.Actions() {
		admin.POST("/elections/:id/"+string(a), h.transition(a))
	}
	admin.PUT("/elections/:id/positions/:positionId", h.attachPosition)
	admin.DELETE("/elections/:id/positions/:positionId", h.detachPosition)
	admin.PUT("/elections/:id/candidates/:candidateId", h.attachCandidate)
	admin.DELETE("/elections/:id/candidates/:candidateId", h.detachCandidate)
	admin.GET("/elections/:id/assignments", h.assignments)

	anyone.GET("/elections/current", h.currentElection)
	anyone.GET("/elections/:id", h.getElection)
	anyone.GET("/elections/:id/results", h.results)
	voter.GET("/me", h.me)
	voter.POST("/elections/:id/votes", h.castVote)
	voter.POST("/elections/:id/ballot", h.castBallot)

	return r
}

// callerKey buckets callers with a valid bearer token by subject and
// everyone else by IP.
func (h *Handler) callerKey(c *gin.Context) string {
	if claims, err := h.auth.FromRequest(c.Request); err == nil {
		return claims.Role + ":" + claims.Subject
	}
	return httpmiddleware.ClientKey(c)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.opts.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}
