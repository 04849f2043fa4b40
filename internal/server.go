package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/2beens/adminauth/internal/accounts"
	"github.com/2beens/adminauth/internal/admin"
	"github.com/2beens/adminauth/internal/auth"
	"github.com/2beens/adminauth/internal/config"
	"github.com/2beens/adminauth/internal/db"
	"github.com/2beens/adminauth/internal/middleware"
	"github.com/2beens/adminauth/internal/sessions"
	"github.com/2beens/adminauth/internal/telemetry/metrics"
	"github.com/2beens/adminauth/internal/telemetry/tracing"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/multierr"
)

type credentialStore interface {
	FindByUsername(ctx context.Context, username string) (*auth.AdminAccount, error)
	TouchLastLogin(ctx context.Context, username string, at time.Time) error
}

type sessionStore interface {
	Create(ctx context.Context, owner string, createdAt, expiresAt time.Time) (string, error)
	Get(ctx context.Context, id string) (*auth.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteAllForOwner(ctx context.Context, owner string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

type Server struct {
	httpServer        *http.Server
	metricsHttpServer *http.Server
	versionInfo       string

	config      *config.Config
	dbPool      *pgxpool.Pool
	redisClient *redis.Client
	authService *auth.Service

	// metrics
	metricsManager *metrics.Manager
	promRegistry   *prometheus.Registry
	otelShutdown   func()

	cleanupCron *cron.Cron
}

type NewServerParams struct {
	Config      *config.Config
	Secrets     *config.Secrets
	VersionInfo string
}

func NewServer(
	ctx context.Context,
	params NewServerParams,
) (*Server, error) {
	cfg := params.Config
	secrets := params.Secrets
	if secrets == nil {
		secrets = &config.Secrets{}
	}

	s := &Server{
		config:      cfg,
		versionInfo: params.VersionInfo,
	}

	var collectors []prometheus.Collector
	if cfg.NeedsPostgres() {
		dbPool, err := db.NewDBPool(ctx, db.NewDBPoolParams{
			DBHost:         cfg.PostgresHost,
			DBPort:         cfg.PostgresPort,
			DBName:         cfg.PostgresDBName,
			DBUser:         cfg.PostgresUser,
			DBPassword:     secrets.PostgresPassword,
			TracingEnabled: secrets.HoneycombEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("new db pool: %w", err)
		}
		if err := dbPool.Ping(ctx); err != nil {
			log.Warnf("failed to ping db: %s", err)
		}
		s.dbPool = dbPool

		collectors = append(collectors, pgxpoolprometheus.NewCollector(
			dbPool,
			map[string]string{"db_name": cfg.PostgresDBName},
		))
	}

	if cfg.SessionStore == config.StoreRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     net.JoinHostPort(cfg.RedisHost, cfg.RedisPort),
			Password: secrets.RedisPassword,
			DB:       0, // use default DB
		})

		rdbStatus := rdb.Ping(ctx)
		if err := rdbStatus.Err(); err != nil {
			log.Errorf("--> failed to ping redis: %s", err)
		} else {
			log.Debugf("redis ping: %s", rdbStatus.Val())
		}
		s.redisClient = rdb
	}

	s.promRegistry = metrics.SetupPrometheus(collectors...)
	s.metricsManager = metrics.NewManager("backend", "admin_auth", s.promRegistry)
	s.metricsManager.GaugeLifeSignal.Set(0)

	// use honeycomb distro to setup OpenTelemetry SDK
	otelShutdown, err := tracing.HoneycombSetup(secrets.HoneycombEnabled, secrets.OtelServiceName, s.redisClient)
	if err != nil {
		return nil, err
	}
	s.otelShutdown = otelShutdown

	credentials, err := s.newCredentialStore(ctx)
	if err != nil {
		return nil, err
	}

	s.authService = auth.NewAuthService(
		credentials,
		s.newSessionStore(),
		auth.NewBcryptHasher(cfg.PasswordCost),
		cfg.SessionLifetime,
	)
	s.authService.StoreTimeout = cfg.StoreTimeout

	return s, nil
}

func (s *Server) newCredentialStore(ctx context.Context) (credentialStore, error) {
	switch s.config.AccountStore {
	case config.StorePostgres:
		return accounts.NewRepo(s.dbPool), nil
	case config.StoreMemory:
		if s.config.Environment == "production" {
			log.Warnln("using in-memory admin accounts in production")
		}
		return NewSeededAccountsRepo(ctx, s.config.DevAdmins)
	default:
		return nil, fmt.Errorf("unknown account store: %s", s.config.AccountStore)
	}
}

func (s *Server) newSessionStore() sessionStore {
	switch s.config.SessionStore {
	case config.StoreRedis:
		repo := sessions.NewRedisRepo(s.redisClient)
		// expired keys stay around until at least one cleanup run has seen them
		if grace := 2 * s.config.CleanupInterval; grace > repo.ExpiredGrace {
			repo.ExpiredGrace = grace
		}
		return repo
	case config.StorePostgres:
		return sessions.NewPsqlRepo(s.dbPool)
	default:
		log.Warnln("using in-memory sessions, they will not survive a restart")
		return sessions.NewMemoryRepo()
	}
}

// NewSeededAccountsRepo returns an in-memory account store holding the given admins.
func NewSeededAccountsRepo(ctx context.Context, admins []config.DevAdmin) (*accounts.MemoryRepo, error) {
	repo := accounts.NewMemoryRepo()
	for _, a := range admins {
		if err := repo.Add(ctx, &auth.AdminAccount{
			Username:     a.Username,
			PasswordHash: a.PasswordHash,
			IsActive:     !a.Inactive,
		}); err != nil {
			return nil, fmt.Errorf("seed dev admin [%s]: %w", a.Username, err)
		}
	}
	return repo, nil
}

func (s *Server) routerSetup() *mux.Router {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("main-router"))

	authMiddleware := middleware.NewAuthMiddlewareHandler(s.authService, s.metricsManager)
	adminHandler := admin.NewHandler(s.authService, s.metricsManager, s.versionInfo)
	adminHandler.SetupRoutes(r, authMiddleware)

	// all the rest - unhandled paths
	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}).Name("unknown")

	r.Use(middleware.PanicRecovery(s.metricsManager))
	r.Use(middleware.LogRequest())
	r.Use(middleware.RequestMetrics(s.metricsManager))
	r.Use(middleware.Cors(s.config.CorsAllowedOrigins...))
	r.Use(middleware.DrainAndCloseRequest())

	return r
}

func (s *Server) Serve(ctx context.Context, host string, port int) {
	router := s.routerSetup()

	ipAndPort := net.JoinHostPort(host, strconv.Itoa(port))
	s.httpServer = &http.Server{
		Handler:      router,
		Addr:         ipAndPort,
		WriteTimeout: time.Minute,
		ReadTimeout:  time.Minute,
		ConnState:    s.connStateMetrics,
	}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.HandlerFor(
		s.promRegistry,
		promhttp.HandlerOpts{},
	))
	metricsAddr := net.JoinHostPort(s.config.PrometheusMetricsHost, s.config.PrometheusMetricsPort)
	s.metricsHttpServer = &http.Server{
		Addr:    metricsAddr,
		Handler: metricsRouter,
	}

	go func() {
		log.Infof(" > server listening on: [%s]", ipAndPort)
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("main service, listen and serve: %s", err)
		}
	}()

	go func() {
		log.Debugf(" > metrics listening on: [%s]", metricsAddr)
		err := s.metricsHttpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics service, listen and serve: %s", err)
		}
	}()

	cleanupCron, err := s.startSessionsCleanup(ctx, s.config.CleanupInterval)
	if err != nil {
		log.Errorf("start sessions cleanup: %s", err)
	}
	s.cleanupCron = cleanupCron

	s.metricsManager.GaugeLifeSignal.Set(1)
}

// startSessionsCleanup schedules removal of expired sessions every interval.
// cron rounds intervals below one second up to one second.
func (s *Server) startSessionsCleanup(ctx context.Context, interval time.Duration) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc("@every "+interval.String(), func() {
		s.cleanSessions(ctx)
	}); err != nil {
		return nil, fmt.Errorf("schedule sessions cleanup: %w", err)
	}
	c.Start()
	log.Debugf("sessions cleanup scheduled every %s", interval)
	return c, nil
}

func (s *Server) cleanSessions(ctx context.Context) {
	cleaned, err := s.authService.ScanAndClean(ctx)
	if err != nil {
		log.Errorf("=> auth service, scan and clean: %s", err)
		return
	}
	s.metricsManager.CounterCleanedSessions.Add(float64(cleaned))
	if cleaned > 0 {
		log.Debugf("=> auth service, scan and clean: %d expired sessions removed", cleaned)
	}
}

func (s *Server) GracefulShutdown() error {
	log.Debug("graceful shutdown initiated ...")

	s.metricsManager.GaugeLifeSignal.Set(0)

	maxWaitDuration := time.Second * 15
	ctx, timeoutCancel := context.WithTimeout(context.Background(), maxWaitDuration)
	defer timeoutCancel()

	var err error
	if s.httpServer != nil {
		if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown http server: %w", shutdownErr))
		}
		log.Warnln("server shut down")
	}

	if s.metricsHttpServer != nil {
		if shutdownErr := s.metricsHttpServer.Shutdown(ctx); shutdownErr != nil {
			err = multierr.Append(err, fmt.Errorf("shutdown metrics http server: %w", shutdownErr))
		}
		log.Warnln("metrics server shut down")
	}

	if s.cleanupCron != nil {
		// waits for a running cleanup to finish
		<-s.cleanupCron.Stop().Done()
		log.Debugln("sessions cleanup stopped")
	}

	if s.otelShutdown != nil {
		s.otelShutdown()
		log.Trace("otel shut down ...")
	}

	if s.redisClient != nil {
		if closeErr := s.redisClient.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("close redis client: %w", closeErr))
		}
	}

	if s.dbPool != nil {
		log.Debugln("closing db pool ...")
		s.dbPool.Close() // blocking operation
		log.Debugln("db pool closed")
	}

	if ok := sentry.Flush(5 * time.Second); ok {
		log.Debugf("sentry flush ok: %t", ok)
	}

	return err
}

func (s *Server) connStateMetrics(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.metricsManager.GaugeRequests.Add(1)
	case http.StateClosed:
		s.metricsManager.GaugeRequests.Add(-1)
	default:
		// do nothing
	}
}
