package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tiendapy/vpos-checkout/internal/checkout"
	"github.com/tiendapy/vpos-checkout/internal/config"
	"github.com/tiendapy/vpos-checkout/internal/events"
	"github.com/tiendapy/vpos-checkout/internal/health"
	"github.com/tiendapy/vpos-checkout/internal/obs"
	"github.com/tiendapy/vpos-checkout/internal/page"
	"github.com/tiendapy/vpos-checkout/internal/relay"
	"github.com/tiendapy/vpos-checkout/internal/resilience"
	"github.com/tiendapy/vpos-checkout/internal/vpos"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "vpos-checkout-relay",
			Endpoint:      cfg.TracingEndpoint,
			SamplingRatio: cfg.TracingSampleRate,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("parse redis url")
		}
		redisClient = redis.NewClient(opts)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Msg("redis unreachable, replay guard and rate limiting disabled")
		}
		cancel()
	}

	backend := &vpos.Client{
		BaseURL: cfg.BackendBaseURL,
		HTTP: resilience.HTTPClient{
			Client: &http.Client{
				Timeout:   cfg.HTTPTimeout,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			},
			Breaker:     resilience.NewBreaker(5, 30*time.Second, "vpos-backend", logger),
			MaxAttempts: cfg.HTTPMaxAttempts,
			BaseBackoff: 200 * time.Millisecond,
			Jitter:      0.2,
		},
		Log: logger.With().Str("component", "vpos").Logger(),
	}

	bus := events.NewBus()

	srv := &relay.Server{
		Bus:                bus,
		TokenPay:           &checkout.TokenPayment{Backend: backend, Page: headlessPage{}, Log: logger},
		Backend:            backend,
		Log:                logger,
		Redis:              redisClient,
		RateLimit:          cfg.RateLimit,
		CheckoutRateLimit:  cfg.CheckoutRateLimit,
		RateLimitWindow:    cfg.RateLimitWindow,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:            obs.NewHTTPMetrics(cfg.MetricsNamespace, nil),
		TracingEnabled:     cfg.TracingEnabled,
		Health: health.Handler{
			Checker: readinessChecker{redis: redisClient, backendURL: cfg.BackendBaseURL},
		},
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: srv.Router(),
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Str("vpos_env", cfg.VposEnv).Msg("relay starting")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	health.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown http server")
	}
}

// headlessPage is the rendering surface of the relay process itself. Token
// charges never render anything here; a strong-authentication continuation is
// returned to the shell as a URL, so opening a window locally is a no-op.
type headlessPage struct{}

func (headlessPage) ScriptByID(string) (page.Script, bool) { return nil, false }

func (headlessPage) InsertScript(string, string) (page.Script, error) {
	return nil, errors.New("relay has no rendering surface")
}

func (headlessPage) ContainerByID(string) (page.Container, bool) { return nil, false }

func (headlessPage) Runtime() (page.Runtime, bool) { return nil, false }

func (headlessPage) OpenWindow(string) error { return nil }

type readinessChecker struct {
	redis      *redis.Client
	backendURL string
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func (c readinessChecker) PingBackend(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.backendURL, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}
