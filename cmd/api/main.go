package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/furever-cart/internal/cart"
	"github.com/noah-isme/furever-cart/internal/common"
	"github.com/noah-isme/furever-cart/internal/config"
	"github.com/noah-isme/furever-cart/internal/coupon"
	"github.com/noah-isme/furever-cart/internal/health"
	"github.com/noah-isme/furever-cart/internal/lock"
	"github.com/noah-isme/furever-cart/internal/obs"
	"github.com/noah-isme/furever-cart/internal/pricing"
	"github.com/noah-isme/furever-cart/internal/ratelimit"
	"github.com/noah-isme/furever-cart/internal/resilience"
	"github.com/noah-isme/furever-cart/internal/security"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	resilience.MustRegisterMetrics(cfg.Obs.MetricsNamespace, nil)

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "furever-cart",
			Endpoint:      cfg.Obs.OTLPEndpoint,
			SamplingRatio: cfg.Obs.SamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	resolver, err := buildResolver(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise coupon resolver")
	}

	svc := &cart.Service{
		Resolver:   resolver,
		TaxRate:    pricing.NormalizeTaxRate(cfg.TaxRate),
		UndoWindow: cfg.CartUndoWindow,
		MaxQty:     cfg.CartMaxQty,
		Logger:     &logger,
	}
	var (
		limiter ratelimit.Allower
		idem    common.Idem
	)

	if cfg.RedisURL != "" {
		redisClient, err := newRedis(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		svc.Store = cart.RedisStore{R: redisClient, TTL: cfg.CartTTL}
		svc.Locker = lock.Locker{R: redisClient, Prefix: "lock:cart:"}
		limiter = ratelimit.Limiter{Client: redisClient, Prefix: "rl:"}
		idem = common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}
	} else {
		logger.Warn().Msg("REDIS_URL not set; carts are kept in memory")
		svc.Store = &cart.MemoryStore{TTL: cfg.CartTTL}
		svc.Locker = &lock.Local{}
		limiter = ratelimit.NewMemoryLimiter("coupon")
	}

	couponLimit := ratelimit.Handler{
		Limiter: limiter,
		Config: ratelimit.Config{
			Key:    ratelimit.ByClientIP("coupon"),
			Window: cfg.CouponRateLimitWin,
			Max:    cfg.CouponRateLimitMax,
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("coupon rate limiter unavailable")
		},
	}

	cartHandler := &cart.Handler{
		Svc:       svc,
		Formatter: pricing.Formatter{Currency: cfg.CurrencyCode, Rate: cfg.CurrencyRate},
		Validate:  validator.New(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.EnablePrometheus {
		httpMetrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets), nil)
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: &logger}.Middleware)
	r.Use(security.Headers{NoStore: true, HSTSMaxAge: 31536000}.Middleware)
	r.Use(security.BodyLimit{Max: 1 << 20}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Idempotency-Key"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:         300,
	}))

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{Checks: map[string]health.Checker{"store": svc}}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1/carts", func(c chi.Router) {
		cartHandler.Routes(c, cart.Middlewares{
			CouponLimit: couponLimit.Middleware,
			Idempotency: idem.Middleware,
		})
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	}()

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown")
	}
	svc.Close()
}

// buildResolver chains the YAML catalog and the remote validator, whichever are configured.
func buildResolver(cfg *config.Config, logger zerolog.Logger) (coupon.Resolver, error) {
	var chain coupon.Chain
	if cfg.CouponCatalogPath != "" {
		catalog, err := coupon.LoadCatalog(cfg.CouponCatalogPath)
		if err != nil {
			return nil, err
		}
		logger.Info().Int("coupons", catalog.Len()).Str("path", cfg.CouponCatalogPath).Msg("coupon catalog loaded")
		chain = append(chain, catalog)
	}
	if cfg.CouponRemoteURL != "" {
		chain = append(chain, coupon.RemoteResolver{
			Endpoint: cfg.CouponRemoteURL,
			Client: resilience.HTTPClient{
				Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker:     resilience.NewBreaker(5, 0.5, 30*time.Second).WithTarget("coupon_remote").WithLogger(logger),
				Target:      "coupon_remote",
				BaseBackoff: 100 * time.Millisecond,
				MaxAttempts: 2,
				Jitter:      0.2,
				Timeout:     cfg.CouponResolveTimeout,
			},
		})
	}
	if len(chain) == 0 {
		logger.Warn().Msg("no coupon source configured; every code will be reported as not valid")
	}
	return chain, nil
}

func newRedis(cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.EnablePrometheus {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
