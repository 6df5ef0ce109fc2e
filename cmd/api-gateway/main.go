package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-squad-api/api/swagger"
	"github.com/noah-isme/sma-squad-api/internal/handler"
	"github.com/noah-isme/sma-squad-api/internal/middleware"
	"github.com/noah-isme/sma-squad-api/internal/models"
	"github.com/noah-isme/sma-squad-api/internal/repository"
	"github.com/noah-isme/sma-squad-api/internal/service"
	"github.com/noah-isme/sma-squad-api/pkg/cache"
	"github.com/noah-isme/sma-squad-api/pkg/config"
	"github.com/noah-isme/sma-squad-api/pkg/database"
	"github.com/noah-isme/sma-squad-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-squad-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-squad-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-squad-api/pkg/storage"
	"github.com/noah-isme/sma-squad-api/pkg/workdays"
)

// @title SMA Squad API
// @version 1.0.0
// @description Competitive squad lifecycle service: squads, memberships, phases, eligibility and tier movement.
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("redis connection failed", "error", err)
		}
	}
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	calendar, err := workdays.NewCalendar(cfg.Phases.Holidays)
	if err != nil {
		logr.Sugar().Fatalw("invalid holiday calendar", "error", err)
	}

	fileStore, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Fatalw("export storage init failed", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Export.Secret, cfg.Export.ResultTTL)

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	squadRepo := repository.NewSquadRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	joinRequestRepo := repository.NewJoinRequestRepository(db)
	roleRequestRepo := repository.NewRoleRequestRepository(db)
	tierChangeRequestRepo := repository.NewTierChangeRequestRepository(db)
	phaseRepo := repository.NewPhaseRepository(db)
	pointsRepo := repository.NewPointsRepository(db)
	eligibilityRepo := repository.NewEligibilityRepository(db)
	tierChangeRepo := repository.NewTierChangeRepository(db)
	configRepo := repository.NewConfigurationRepository(db)

	metricsSvc := service.NewMetricsService()

	// Services.
	authSvc := service.NewAuthService(userRepo, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "sma-squad-api",
	})
	userSvc := service.NewUserService(userRepo, nil, logr)
	studentSvc := service.NewStudentService(studentRepo, membershipRepo, pointsRepo, nil, logr)
	policySvc := service.NewPolicyService(configRepo, cacheRepo, userRepo, nil, logr, service.PolicyServiceConfig{
		CacheTTL: cfg.Policy.CacheTTL,
	})
	squadSvc := service.NewSquadService(squadRepo, membershipRepo, policySvc, userRepo, nil, logr)
	phaseSvc := service.NewPhaseService(phaseRepo, cacheRepo, userRepo, calendar, nil, logr, service.PhaseServiceConfig{
		CurrentCacheTTL: cfg.Phases.CurrentCacheTTL,
	})
	membershipSvc := service.NewMembershipService(membershipRepo, studentRepo, policySvc, phaseSvc, calendar, userRepo, nil, logr)
	eligibilitySvc := service.NewEligibilityService(eligibilityRepo, phaseRepo, pointsRepo, studentRepo, squadRepo, userRepo, logr)
	phaseSvc.SetEvaluator(eligibilitySvc)
	tierChangeSvc := service.NewTierChangeService(tierChangeRepo, phaseRepo, eligibilityRepo, squadRepo, userRepo, logr)
	joinRequestSvc := service.NewJoinRequestService(joinRequestRepo, studentRepo, policySvc, userRepo, nil, logr)
	roleRequestSvc := service.NewRoleRequestService(roleRequestRepo, studentRepo, membershipRepo, policySvc, userRepo, nil, logr)
	tierChangeRequestSvc := service.NewTierChangeRequestService(tierChangeRequestRepo, squadRepo, studentRepo, membershipRepo, userRepo, nil, logr)
	pointsSvc := service.NewPointsService(pointsRepo, studentRepo, userRepo, nil, logr)
	exportSvc := service.NewExportService(eligibilityRepo, phaseRepo, fileStore, signer, service.ExportServiceConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Export.ResultTTL,
	}, logr, nil, nil)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	squadHandler := handler.NewSquadHandler(squadSvc)
	membershipHandler := handler.NewMembershipHandler(membershipSvc)
	joinRequestHandler := handler.NewJoinRequestHandler(joinRequestSvc)
	roleRequestHandler := handler.NewRoleRequestHandler(roleRequestSvc)
	tierChangeRequestHandler := handler.NewTierChangeRequestHandler(tierChangeRequestSvc)
	phaseHandler := handler.NewPhaseHandler(phaseSvc, eligibilitySvc)
	eligibilityHandler := handler.NewEligibilityHandler(eligibilitySvc, exportSvc)
	tierChangeHandler := handler.NewTierChangeHandler(tierChangeSvc)
	policyHandler := handler.NewPolicyHandler(policySvc)
	pointsHandler := handler.NewPointsHandler(pointsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r, cfg.APIPrefix, authSvc, userRepo, routeHandlers{
		auth:               authHandler,
		users:              userHandler,
		students:           studentHandler,
		squads:             squadHandler,
		memberships:        membershipHandler,
		joinRequests:       joinRequestHandler,
		roleRequests:       roleRequestHandler,
		tierChangeRequests: tierChangeRequestHandler,
		phases:             phaseHandler,
		eligibility:        eligibilityHandler,
		tierChanges:        tierChangeHandler,
		policy:             policyHandler,
		points:             pointsHandler,
		metrics:            metricsHandler,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Close out any phase that expired while the service was down, then
	// keep sweeping on the configured interval.
	phaseSvc.FinalizeExpired(ctx)
	go func() {
		ticker := time.NewTicker(cfg.Phases.FinalizeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				phaseSvc.FinalizeExpired(ctx)
			}
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

type routeHandlers struct {
	auth               *handler.AuthHandler
	users              *handler.UserHandler
	students           *handler.StudentHandler
	squads             *handler.SquadHandler
	memberships        *handler.MembershipHandler
	joinRequests       *handler.JoinRequestHandler
	roleRequests       *handler.RoleRequestHandler
	tierChangeRequests *handler.TierChangeRequestHandler
	phases             *handler.PhaseHandler
	eligibility        *handler.EligibilityHandler
	tierChanges        *handler.TierChangeHandler
	policy             *handler.PolicyHandler
	points             *handler.PointsHandler
	metrics            *handler.MetricsHandler
}

func registerRoutes(r *gin.Engine, prefix string, authSvc *service.AuthService, auditRepo *repository.UserRepository, h routeHandlers) {
	api := r.Group(prefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", h.auth.Login)
		auth.POST("/refresh", h.auth.Refresh)
		auth.POST("/forgot-password", h.auth.ForgotPassword)
		auth.POST("/reset-password", h.auth.ResetPassword)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))
	{
		authed.POST("/auth/logout", h.auth.Logout)
		authed.POST("/auth/change-password", h.auth.ChangePassword)
		authed.GET("/auth/me", h.auth.Me)

		authed.GET("/squads", h.squads.List)
		authed.GET("/squads/:id", h.squads.Get)
		authed.GET("/squads/:id/members", h.memberships.ListBySquad)

		authed.POST("/memberships/:id/leave", h.memberships.Leave)
		authed.PUT("/memberships/:id/role", h.memberships.UpdateRole)

		authed.POST("/join-requests", h.joinRequests.Create)
		authed.GET("/join-requests", h.joinRequests.List)
		authed.GET("/join-requests/:id", h.joinRequests.Get)
		authed.POST("/role-requests", h.roleRequests.Create)
		authed.GET("/role-requests", h.roleRequests.List)
		authed.POST("/role-requests/:id/decision", h.roleRequests.Decide)
		authed.POST("/tier-change-requests", h.tierChangeRequests.Create)

		authed.GET("/phases", h.phases.List)
		authed.GET("/phases/current", h.phases.Current)
		authed.GET("/phases/change-day", h.phases.ChangeDay)
		authed.GET("/phases/:id", h.phases.Get)
		authed.GET("/phases/:id/eligibility/individuals", h.eligibility.ListIndividuals)
		authed.GET("/phases/:id/eligibility/squads", h.eligibility.ListSquads)
		authed.GET("/phases/:id/tier-changes", h.tierChanges.List)
		authed.GET("/phases/:id/tier-changes/:squadId/preview", h.tierChanges.Preview)

		authed.GET("/students/:id/points", h.points.ListByStudent)
		authed.GET("/policy", h.policy.Get)

		authed.GET("/exports/:token",
			middleware.Audit(auditRepo, models.AuditActionExportDownload, "export"),
			h.eligibility.Download)
	}

	admin := api.Group("")
	admin.Use(middleware.JWT(authSvc))
	admin.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin))
	{
		admin.GET("/users", h.users.List)
		admin.GET("/users/:id", h.users.Get)
		admin.POST("/users", h.users.Create)
		admin.PUT("/users/:id", h.users.Update)
		admin.DELETE("/users/:id", h.users.Delete)

		admin.GET("/students", h.students.List)
		admin.GET("/students/:id", h.students.Get)
		admin.POST("/students", h.students.Create)
		admin.PUT("/students/:id", h.students.Update)
		admin.DELETE("/students/:id", h.students.Delete)

		admin.POST("/squads", h.squads.Create)
		admin.POST("/squads/:id/freeze", h.squads.Freeze)
		admin.POST("/squads/:id/unfreeze", h.squads.Unfreeze)

		admin.POST("/memberships", h.memberships.Join)
		admin.POST("/memberships/:id/remove", h.memberships.Remove)

		admin.POST("/join-requests/:id/decision", h.joinRequests.Decide)
		admin.GET("/tier-change-requests", h.tierChangeRequests.List)
		admin.POST("/tier-change-requests/:id/decision", h.tierChangeRequests.Decide)

		admin.POST("/phases", h.phases.Create)
		admin.PUT("/phases/:id/targets", h.phases.UpdateTargets)
		admin.POST("/phases/:id/evaluate", h.phases.Evaluate)
		admin.POST("/phases/:id/eligibility/export", h.eligibility.Export)
		admin.POST("/phases/:id/tier-changes", h.tierChanges.ApplyAll)
		admin.POST("/phases/:id/tier-changes/:squadId", h.tierChanges.Apply)

		admin.POST("/points", h.points.Award)
		admin.PUT("/policy", h.policy.Update)

		admin.GET("/system/metrics", h.metrics.Snapshot)
	}
}
