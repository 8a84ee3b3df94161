package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/winnersdraw91/pacs-v2/internal/config"
	"github.com/winnersdraw91/pacs-v2/internal/domain/billing"
	"github.com/winnersdraw91/pacs-v2/internal/domain/enrichment"
	"github.com/winnersdraw91/pacs-v2/internal/domain/identity"
	"github.com/winnersdraw91/pacs-v2/internal/domain/instances"
	"github.com/winnersdraw91/pacs-v2/internal/domain/study"
	"github.com/winnersdraw91/pacs-v2/internal/domain/tenancy"
	"github.com/winnersdraw91/pacs-v2/internal/platform/auth"
	"github.com/winnersdraw91/pacs-v2/internal/platform/blobstore"
	"github.com/winnersdraw91/pacs-v2/internal/platform/db"
	"github.com/winnersdraw91/pacs-v2/internal/platform/middleware"
	"github.com/winnersdraw91/pacs-v2/internal/platform/telemetry"
)

// stores groups the repositories of one store driver.
type stores struct {
	centres  tenancy.CentreRepository
	users    tenancy.UserRepository
	sources  tenancy.ImagingSourceRepository
	studies  study.StudyRepository
	reports  study.ReportRepository
	billings billing.BillingRepository
	pricing  billing.PricingRepository
	tx       db.Transactor
	pinger   db.Pinger
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StoreMemory:
		logger.Warn().Msg("using the in-memory store; data is lost on restart")
		return &stores{
			centres:  tenancy.NewMemCentreRepo(),
			users:    tenancy.NewMemUserRepo(),
			sources:  tenancy.NewMemImagingSourceRepo(),
			studies:  study.NewMemStudyRepo(),
			reports:  study.NewMemReportRepo(),
			billings: billing.NewMemBillingRepo(),
			pricing:  billing.NewMemPricingRepo(),
			tx:       db.NewLocalTransactor(),
			pinger:   db.MemoryPinger{},
			close:    func() {},
		}, nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		return pgStores(pool), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func pgStores(pool *pgxpool.Pool) *stores {
	return &stores{
		centres:  tenancy.NewCentreRepoPG(pool),
		users:    tenancy.NewUserRepoPG(pool),
		sources:  tenancy.NewImagingSourceRepoPG(pool),
		studies:  study.NewStudyRepoPG(pool),
		reports:  study.NewReportRepoPG(pool),
		billings: billing.NewBillingRepoPG(pool),
		pricing:  billing.NewPricingRepoPG(pool),
		tx:       db.NewTransactor(pool),
		pinger:   pool,
		close:    pool.Close,
	}
}

type app struct {
	echo     *echo.Echo
	tenancy  *tenancy.Service
	studies  *study.Service
	pipeline *enrichment.Pipeline
	metrics  *telemetry.Metrics
	stores   *stores
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.Open(ctx, blobstore.Config{
		Driver: blobstore.Driver(cfg.StorageDriver),
		Root:   cfg.StorageRoot,
		S3: blobstore.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Prefix:          cfg.S3Prefix,
		},
	})
	if err != nil {
		st.close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	metrics := telemetry.New()
	store := instances.NewStore(blobs, logger)
	store.SetMetrics(metrics)

	tenancySvc := tenancy.NewService(st.centres, st.users, st.sources, st.tx)
	tenancySvc.AddDependent("studies", st.studies)
	tenancySvc.AddDependent("pricing", st.pricing)
	tenancySvc.AddDependent("billings", st.billings)
	tenancySvc.AddReference("studies", st.studies)
	tenancySvc.AddReference("reports", st.reports)

	studySvc := study.NewService(st.studies, st.reports, st.centres, st.users, store, st.tx, logger)

	var analyzer enrichment.Analyzer
	if cfg.EnrichmentEnabled {
		analyzer = enrichment.MetadataAnalyzer{}
	}
	pipeline := enrichment.New(st.studies, st.reports, store, st.tx, analyzer, enrichment.Config{
		Workers:   cfg.EnrichmentWorkers,
		QueueSize: cfg.EnrichmentQueueSize,
		Timeout:   cfg.EnrichmentTimeout,
	}, logger)
	pipeline.SetMetrics(metrics)
	studySvc.SetEnricher(pipeline, cfg.EnrichmentAuto)

	billingSvc := billing.NewService(st.billings, st.pricing, st.studies, st.centres, st.tx, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadBodyLimit, isUpload))
	e.Use(metrics.Middleware())
	e.Use(auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
		Resolver:   tenancySvc,
		Skipper:    auth.PublicSkipper,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(st.pinger, cfg.StoreDriver))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api/v1")
	tenancy.NewHandler(tenancySvc).RegisterRoutes(api)
	study.NewHandler(studySvc).RegisterRoutes(api)
	billing.NewHandler(billingSvc).RegisterRoutes(api)

	pipeline.Start(ctx)

	return &app{
		echo:     e,
		tenancy:  tenancySvc,
		studies:  studySvc,
		pipeline: pipeline,
		metrics:  metrics,
		stores:   st,
	}, nil
}

func isUpload(r *http.Request) bool {
	return r.Method == http.MethodPost && strings.TrimSuffix(r.URL.Path, "/") == "/api/v1/studies"
}

// Close stops the enrichment workers and releases the store.
func (a *app) Close(ctx context.Context) error {
	err := a.pipeline.Stop(ctx)
	a.stores.close()
	return err
}

// bootstrapAdmin creates the first admin. It bypasses access checks and is
// only reachable from the CLI and the memory-store seed.
func bootstrapAdmin(ctx context.Context, svc *tenancy.Service, email, name string) (*tenancy.User, error) {
	u := &tenancy.User{Email: email, FullName: name, Role: identity.RoleAdmin}
	if err := svc.CreateUser(ctx, identity.Actor{Role: identity.RoleAdmin}, u); err != nil {
		return nil, err
	}
	return u, nil
}
