// Package relay is the kiosk-side HTTP surface. The embedding webview posts
// raw widget messages here, and the storefront shell drives token payments
// and the stored-card list through it.
package relay

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tiendapy/vpos-checkout/internal/checkout"
	"github.com/tiendapy/vpos-checkout/internal/common"
	"github.com/tiendapy/vpos-checkout/internal/events"
	"github.com/tiendapy/vpos-checkout/internal/health"
	"github.com/tiendapy/vpos-checkout/internal/obs"
	"github.com/tiendapy/vpos-checkout/internal/ratelimit"
)

// Server wires the relay endpoints. All fields except Bus are optional; a
// zero Redis client disables replay protection and rate limiting.
type Server struct {
	Bus      *events.Bus
	TokenPay *checkout.TokenPayment
	Backend  checkout.SessionBackend
	Log      zerolog.Logger

	Redis     *redis.Client
	DedupeTTL time.Duration

	// RateLimit throttles the message firehose; CheckoutRateLimit covers the
	// token-payment and card routes, which a kiosk hits far less often.
	RateLimit         int
	CheckoutRateLimit int
	RateLimitWindow   time.Duration

	CORSAllowedOrigins []string

	Metrics        *obs.HTTPMetrics
	TracingEnabled bool
	Health         health.Handler
}

// Router assembles the chi router with the full middleware stack.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.TracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if s.Metrics != nil {
		r.Use(obs.HTTPObs{Metrics: s.Metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: s.Log}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.Health.Live)
	r.Get("/readyz", s.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	limiter := ratelimit.Sliding{Client: s.Redis, Prefix: "relay:rl:"}
	onLimiterError := func(err error) {
		s.Log.Warn().Err(err).Msg("rate limiter unavailable, letting request through")
	}
	messages := ratelimit.Handler{
		Limiter: limiter,
		Class: ratelimit.Class{
			Name:   "messages",
			Key:    common.ClientIP,
			Window: s.rateLimitWindow(),
			Max:    s.rateLimit(),
		},
		OnError: onLimiterError,
	}
	checkoutOps := ratelimit.Handler{
		Limiter: limiter,
		Class: ratelimit.Class{
			Name:   "checkout",
			Key:    common.ClientIP,
			Window: s.rateLimitWindow(),
			Max:    s.checkoutRateLimit(),
		},
		OnError: onLimiterError,
	}

	r.Group(func(g chi.Router) {
		g.Use(messages.Middleware)
		g.Post("/relay/messages", s.handleMessage)
	})
	r.Group(func(g chi.Router) {
		g.Use(checkoutOps.Middleware)
		g.Post("/checkout/token-payments", s.handleTokenPayment)
		g.Get("/checkout/cards/{userID}", s.handleListCards)
	})

	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.CORSAllowedOrigins
}

func (s *Server) rateLimit() int {
	if s.RateLimit > 0 {
		return s.RateLimit
	}
	return 60
}

func (s *Server) checkoutRateLimit() int {
	if s.CheckoutRateLimit > 0 {
		return s.CheckoutRateLimit
	}
	return 20
}

func (s *Server) rateLimitWindow() time.Duration {
	if s.RateLimitWindow > 0 {
		return s.RateLimitWindow
	}
	return time.Minute
}

func (s *Server) dedupeTTL() time.Duration {
	if s.DedupeTTL > 0 {
		return s.DedupeTTL
	}
	return 5 * time.Minute
}
