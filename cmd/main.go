package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"kings-storefront/internal/api"
	"kings-storefront/internal/apiclient"
	"kings-storefront/internal/catalog"
	"kings-storefront/internal/config"
	"kings-storefront/internal/logger"
	"kings-storefront/internal/pos"
	"kings-storefront/internal/push"
	"kings-storefront/internal/store"
	"kings-storefront/internal/telemetry"
)

const (
	defaultAppName = "KingsStorefront"
	healthPath     = "/api/v1/healthz"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Info(".env file not found, relying on system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Error loading configuration: %v", err)
	}
	logger.Init(cfg.Log, cfg.AppEnv)
	log := logger.WithModule("main")
	log.WithField("app_env", cfg.AppEnv).Info("Starting service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}

	// --- Upstream API client ---
	session := apiclient.NewSession()
	client, err := buildAPIClient(cfg.Upstream, session)
	if err != nil {
		log.Fatalf("Failed to build API client: %v", err)
	}
	signIn(ctx, client, cfg.Upstream, session, log)

	// --- Optional mirror database ---
	var dbStore *store.PostgresStore
	var db *sql.DB
	if cfg.Postgres.Enabled() {
		db, err = sql.Open("postgres", cfg.Postgres.DSN())
		if err != nil {
			log.Fatalf("Failed to initialize database connection: %v", err)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Failed to ping database: %v", err)
		}
		dbStore = store.NewPostgresStore(db)
		if err := dbStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		log.Info("Database connection established")
	}

	// --- Push channel and catalog mirror ---
	hub, closePush := buildPushHub(cfg.Push, session)
	mirrorOpts := []catalog.Option{}
	if dbStore != nil {
		mirrorOpts = append(mirrorOpts, catalog.WithStore(dbStore))
	}
	if hub != nil {
		mirrorOpts = append(mirrorOpts, catalog.WithHub(hub))
	}
	mirror := catalog.NewMirror(client, mirrorOpts...)
	if err := mirror.Start(ctx); err != nil {
		log.WithError(err).Warn("Initial catalog refresh failed; serving push updates until the backend recovers")
		if err := mirror.Restore(ctx); err != nil {
			log.WithError(err).Warn("Could not restore catalog from database")
		}
	}

	var receipts store.ReceiptStorer = store.NewMemoryReceiptStore()
	if dbStore != nil {
		receipts = dbStore
	}

	pricing, err := buildPricing(cfg.Pos)
	if err != nil {
		log.Fatalf("Invalid POS configuration: %v", err)
	}

	// --- Initialize API Handlers ---
	httpAPIHandler := api.NewHTTPHandler(mirror, client, receipts, pricing)
	grpcAPIHandler := api.NewGRPCHandler(mirror, pricing.Counter)

	// --- Setup & Start HTTP Server ---
	httpRouter := chi.NewRouter()
	setupBaseMiddleware(httpRouter, cfg.Tracing.ServiceName)
	registerHealthCheck(httpRouter, db, mirror, hub, session)
	httpAPIHandler.RegisterRoutes(httpRouter)

	httpServer := &http.Server{
		Addr:         ":" + cfg.HttpServer.Port,
		Handler:      httpRouter,
		ReadTimeout:  cfg.HttpServer.TimeoutRead,
		WriteTimeout: cfg.HttpServer.TimeoutWrite,
		IdleTimeout:  cfg.HttpServer.TimeoutIdle,
	}

	go func() {
		log.Infof("HTTP server listening on port %s", cfg.HttpServer.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server ListenAndServe error: %v", err)
		}
		log.Info("HTTP server has stopped")
	}()

	// --- Setup & Start gRPC Server ---
	grpcServer := setupGRPCServer(grpcAPIHandler)
	grpcListener, err := net.Listen("tcp", ":"+cfg.GrpcServer.Port)
	if err != nil {
		log.Fatalf("Failed to listen for gRPC on port %s: %v", cfg.GrpcServer.Port, err)
	}

	go func() {
		log.Infof("gRPC server listening on port %s", cfg.GrpcServer.Port)
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("gRPC server Serve error: %v", err)
		}
		log.Info("gRPC server has stopped")
	}()

	// --- Graceful Shutdown ---
	cleanup := func(ctx context.Context) {
		mirror.Stop()
		closePush()
		if dbStore != nil {
			if err := dbStore.Close(); err != nil {
				log.WithError(err).Warn("Error closing database connection")
			}
		}
		if err := shutdownTracing(ctx); err != nil {
			log.WithError(err).Warn("Error flushing traces")
		}
	}

	shutdownComplete := make(chan struct{})
	go waitForShutdown(httpServer, grpcServer, cleanup, shutdownComplete)

	<-shutdownComplete
	log.Info("Service shutdown sequence finished")
}

// buildAPIClient wires auth, retry policies and the optional breaker from cfg.
func buildAPIClient(cfg config.UpstreamConfig, session *apiclient.Session) (*apiclient.Client, error) {
	retry := apiclient.DefaultRetryPolicy()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialDelay = cfg.RetryInitialDelay

	opts := []apiclient.Option{
		apiclient.WithExecutor(apiclient.NewHTTPClient(cfg.RequestTimeout)),
		apiclient.WithRetryPolicy(retry),
		apiclient.WithLogger(logger.WithModule("apiclient")),
		apiclient.WithUnauthorizedHandler(apiclient.SignOutOnUnauthorized(session, logger.WithModule("auth"))),
		// A sale is never replayed by the client; the idempotency key covers caller retries.
		apiclient.WithPathPolicy("/api/sales/complete", apiclient.NoRetry()),
	}

	switch strings.ToLower(cfg.AuthMode) {
	case "bearer":
		if cfg.Token != "" && cfg.Email == "" {
			opts = append(opts, apiclient.WithAuth(apiclient.BearerAuth{Source: apiclient.StaticToken(cfg.Token)}))
		} else {
			opts = append(opts, apiclient.WithAuth(apiclient.BearerAuth{Source: session}))
		}
	default:
		opts = append(opts, apiclient.WithAuth(apiclient.CookieAuth{}))
	}

	policies, err := config.LoadRetryPolicies(cfg.RetryPolicyFile)
	if err != nil {
		return nil, err
	}
	for prefix, o := range policies.Paths {
		p := retry
		if o.MaxAttempts > 0 {
			p.MaxAttempts = o.MaxAttempts
		}
		if o.InitialDelay > 0 {
			p.InitialDelay = o.InitialDelay
		}
		if o.RetryAll {
			p.Retryable = apiclient.RetryAll
		}
		opts = append(opts, apiclient.WithPathPolicy(prefix, p))
	}

	if cfg.BreakerThreshold > 0 {
		opts = append(opts, apiclient.WithBreaker(apiclient.NewBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown)))
	}
	return apiclient.New(cfg.BaseURL, opts...)
}

// signIn logs the gateway in when credentials are configured. Failure is not
// fatal: catalog reads do not need a session.
func signIn(ctx context.Context, client *apiclient.Client, cfg config.UpstreamConfig, session *apiclient.Session, log *logrus.Entry) {
	if cfg.Email == "" {
		return
	}
	res, err := client.Login(ctx, apiclient.Credentials{Email: cfg.Email, Password: cfg.Password}, session)
	if err != nil {
		log.WithError(err).Warn("Upstream sign-in failed")
		return
	}
	log.WithFields(logrus.Fields{"user": res.User.Email, "role": session.Role()}).Info("Signed in to upstream")
}

// buildPushHub returns nil and a no-op closer when push is disabled.
func buildPushHub(cfg config.PushConfig, session *apiclient.Session) (*push.Hub, func()) {
	hubLog := logger.WithModule("push")
	var source push.Source
	closeSource := func() {}

	switch strings.ToLower(cfg.Source) {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		source = push.NewRedisSource(rdb, cfg.RedisChannel)
		closeSource = func() {
			if err := rdb.Close(); err != nil {
				hubLog.WithError(err).Warn("Error closing redis client")
			}
		}
	case "websocket":
		source = &push.WebSocketSource{
			URL: cfg.WebSocketURL,
			HeaderFunc: func() http.Header {
				header := http.Header{}
				if tok := session.Token(); tok != "" {
					header.Set("Authorization", "Bearer "+tok)
				}
				return header
			},
		}
	default:
		return nil, closeSource
	}

	hub := push.NewHub(source, push.WithHubLogger(hubLog))
	return hub, func() {
		hub.Close()
		closeSource()
	}
}

func buildPricing(cfg config.PosConfig) (api.Pricing, error) {
	rate, err := decimal.NewFromString(cfg.TaxRate)
	if err != nil {
		return api.Pricing{}, fmt.Errorf("POS_TAX_RATE: %w", err)
	}
	fee, err := decimal.NewFromString(cfg.ShippingFee)
	if err != nil {
		return api.Pricing{}, fmt.Errorf("CART_SHIPPING_FEE: %w", err)
	}
	return api.Pricing{
		Counter: pos.Pricing{TaxRate: rate, ShippingFee: decimal.Zero, Currency: cfg.Currency},
		Cart:    pos.Pricing{TaxRate: rate, ShippingFee: fee, Currency: cfg.Currency},
	}, nil
}

func setupBaseMiddleware(router *chi.Mux, serviceName string) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger.Get(), NoColor: true}))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(telemetry.Middleware(serviceName, healthPath))
	logger.WithModule("main").Debug("Base HTTP middleware registered")
}

func registerHealthCheck(router *chi.Mux, db *sql.DB, mirror *catalog.Mirror, hub *push.Hub, session *apiclient.Session) {
	router.Get(healthPath, func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":      "healthy",
			"serviceName": defaultAppName,
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"products":    len(mirror.Products()),
			"signedIn":    session.SignedIn(),
		}
		if t := mirror.RefreshedAt(); !t.IsZero() {
			body["catalogRefreshedAt"] = t.UTC().Format(time.RFC3339)
		}
		if hub != nil {
			body["pushSubscribers"] = hub.Subscribers()
		}
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			body["database"] = "healthy"
			if err := db.PingContext(ctx); err != nil {
				body["database"] = "unhealthy"
				logger.WithContext(r.Context()).WithError(err).Warn("Health check DB ping failed")
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK) // Always 200, but payload indicates detailed status
		json.NewEncoder(w).Encode(body)
	})
}

func setupGRPCServer(grpcAPIHandler *api.GRPCHandler) *grpc.Server {
	log := logger.WithModule("main")
	s := grpc.NewServer()

	api.RegisterPointOfSaleServer(s, grpcAPIHandler)
	log.Debug("PointOfSale gRPC service registered")

	healthServer := health.NewServer()
	healthServer.SetServingStatus(api.PointOfSaleServiceDesc.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(s, healthServer)

	// Enable gRPC server reflection (useful for tools like grpcurl).
	reflection.Register(s)
	return s
}

func waitForShutdown(
	httpServer *http.Server,
	grpcServer *grpc.Server,
	cleanup func(context.Context),
	shutdownComplete chan struct{},
) {
	defer close(shutdownComplete)
	log := logger.WithModule("main")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-sigChan
	log.Infof("Received signal: %s. Starting graceful shutdown...", receivedSignal)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	stoppedGrpc := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stoppedGrpc)
	}()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP server graceful shutdown failed")
	} else {
		log.Info("HTTP server gracefully shut down")
	}

	select {
	case <-stoppedGrpc:
		log.Info("gRPC server gracefully shut down")
	case <-shutdownCtx.Done():
		log.WithError(shutdownCtx.Err()).Warn("gRPC server graceful shutdown timed out, forcing stop")
		grpcServer.Stop()
	}

	cleanup(shutdownCtx)
	log.Info("Graceful shutdown sequence completed")
}
