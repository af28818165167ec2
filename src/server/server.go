package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"coverserv/src/analytics"
	app "coverserv/src/app"
	"coverserv/src/auth"
	"coverserv/src/campaign"
	"coverserv/src/compositor"
	cfg "coverserv/src/configuration"
	"coverserv/src/doi"
	"coverserv/src/kv"
	"coverserv/src/limiter"
	"coverserv/src/moderation"
	"coverserv/src/pipeline"
	db "coverserv/src/repository"
	"coverserv/src/session"
	"coverserv/src/templates"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type (
	// ShareStore publishes a composite under a time-limited public link.
	ShareStore interface {
		PublishShare(ctx context.Context, name string, image []byte, ttl time.Duration) (*url.URL, error)
	}

	// Services is everything the handlers work with.
	Services struct {
		Campaign   *campaign.Store
		Analytics  *analytics.FileStore
		Templates  *templates.Catalogue
		Compositor *compositor.Compositor
		Moderator  pipeline.Moderator
		Sessions   *session.Store
		Pipeline   *pipeline.Pipeline
		Gate       *doi.Gate
		Poller     *doi.Poller
		Issuer     *auth.Issuer
		Password   *auth.Password
		Tokens     db.AuthDB
		Limiter    *limiter.Window
		// Shares is nil when no object storage is configured.
		Shares ShareStore
	}
)

// NewServices builds the component graph from config. Sessions live in the
// S3 bucket when one is configured and in memory otherwise.
func NewServices(ctx context.Context, config *cfg.Properties, log *zap.Logger) (*Services, error) {
	campaignStore := campaign.NewStore(config.CampaignFile, log.Named("campaign"))
	if _, err := campaignStore.Ensure(); err != nil {
		return nil, fmt.Errorf("campaign config: %w", err)
	}
	counters := analytics.NewFileStore(config.AnalyticsFile, log.Named("analytics"))

	var (
		store  kv.Store = kv.NewMemory()
		shares ShareStore
	)
	if config.S3Enabled() {
		clientS3, err := app.NewMinioS3Client(
			config.S3.Host,
			config.S3.AccessKey,
			config.S3.SecretKey,
			config.S3.Bucket,
			config.S3.UseSSL,
			config.S3.ReadTimeout,
			log.Named("s3"))
		if err != nil {
			return nil, err
		}
		if err := clientS3.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("could not connect to minio: %w", err)
		}
		store, shares = clientS3, clientS3
	} else {
		log.Info("no object storage configured, sessions are kept in memory and sharing is off")
	}

	sessions := session.NewStore(store, log.Named("session"), session.WithTTL(config.DOI.SessionTTL))
	catalogue := templates.NewCatalogue(config.TemplatesDir, log.Named("templates"))
	comp := compositor.New(log.Named("compositor"),
		compositor.WithCanvasSize(config.Render.CanvasSize),
		compositor.WithQuality(config.Render.Quality))

	var classifier moderation.Classifier
	openai := moderation.NewOpenAIClient(
		config.Moderation.Host,
		config.Moderation.APIKey,
		config.Moderation.Model,
		config.Moderation.Timeout,
		log.Named("openai"))
	if openai.Configured() {
		classifier = openai
	} else {
		log.Warn("moderation API key not set, photos are not moderated")
	}
	moderator := moderation.NewGate(classifier, log.Named("moderation"),
		moderation.WithEnabled(func() bool { return campaignStore.Load().WhiteLabel.ModerationEnabled }),
		moderation.WithTracker(counters))

	gate := doi.NewGate(sessions, log.Named("doi"), doi.WithGracePeriod(config.DOI.GracePeriod))

	issuer, err := auth.NewIssuer(config.Admin.JWTSecret, config.Admin.TokenTTL)
	if err != nil {
		return nil, err
	}
	password, err := auth.NewPassword(config.Admin.Password)
	if err != nil {
		return nil, err
	}
	tokens, err := db.NewAuthDataBase(config, log.Named("tokens"))
	if err != nil {
		return nil, err
	}
	if !tokens.Connect() {
		return nil, errors.New("can not connect to token registry")
	}

	return &Services{
		Campaign:   campaignStore,
		Analytics:  counters,
		Templates:  catalogue,
		Compositor: comp,
		Moderator:  moderator,
		Sessions:   sessions,
		Pipeline:   pipeline.New(catalogue, moderator, comp, sessions, log.Named("pipeline"), pipeline.WithTracker(counters)),
		Gate:       gate,
		Poller:     doi.NewPoller(gate, config.DOI.PollInterval, log.Named("doi")),
		Issuer:     issuer,
		Password:   password,
		Tokens:     tokens,
		Limiter:    limiter.NewWindow(config.Limit.RequestsPerMinute),
		Shares:     shares,
	}, nil
}

func NewRouter(config *cfg.Properties, handler *AppHandler, authHandler *AuthHandler, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(accessLog(log), recovery(log))
	router.Use(cors.New(corsConfig(config.Server.AllowOrigins)))
	router.Use(limiter.Middleware(handler.svc.Limiter, log))

	router.GET("/health", handler.GetHealth)

	// admin sign-on
	router.POST("/api/admin/login", authHandler.Login)
	router.GET("/admin/sso/login", authHandler.SSOLogin)
	router.GET("/admin/sso/callback", authHandler.SSOCallback)

	admin := router.Group("/api", authHandler.RequireAdmin())
	admin.POST("/admin/logout", authHandler.Logout)
	admin.GET("/admin/account", authHandler.Account)
	admin.POST("/config", handler.PostConfig)
	admin.GET("/analytics", handler.GetAnalytics)
	admin.POST("/analytics/reset", handler.ResetAnalytics)
	admin.POST("/templates/upload", limitBody(config.Server.MaxUploadBytes), handler.UploadTemplate)
	admin.POST("/template-config/save", handler.SaveTemplateConfig)

	if config.Server.Pprof {
		pprof.RouteRegister(router.Group("/admin", authHandler.RequireAdmin()), "/debug/pprof")
	}

	public := router.Group("/api", clientIdentity(config.Server.ClientCookie))
	public.GET("/config", handler.GetConfig)
	public.GET("/template-config", handler.GetTemplateConfig)
	public.GET("/templates/list", handler.ListTemplates)
	public.GET("/template-assets", handler.GetTemplateAsset)
	public.POST("/analytics", handler.TrackEvent)

	public.POST("/crop/default", limitBody(config.Server.MaxUploadBytes), handler.PostDefaultCrop)
	public.POST("/moderate", limitBody(config.Server.MaxUploadBytes), handler.PostModerate)
	public.POST("/compose", limitBody(config.Server.MaxUploadBytes), handler.PostCompose)
	public.GET("/session", handler.GetSession)
	public.DELETE("/session", handler.DeleteSession)
	public.GET("/session/preview", handler.GetPreview)
	public.GET("/session/download", handler.GetDownload)
	public.POST("/session/share", handler.PostShare)

	public.POST("/doi/start", handler.PostDOIStart)
	public.POST("/doi/complete", handler.PostDOIComplete)
	public.GET("/doi/return", handler.GetDOIReturn)
	public.GET("/doi/status", handler.GetDOIStatus)
	public.POST("/doi-code/generate", handler.PostDOICodeGenerate)
	public.POST("/doi-code/validate", handler.PostDOICodeValidate)

	router.NoRoute(func(ctx *gin.Context) { ctx.JSON(http.StatusNotFound, gin.H{}) })
	return router
}

// RunServer serves until ctx is cancelled, then drains open requests.
func RunServer(ctx context.Context, config *cfg.Properties, log *zap.Logger) error {
	svc, err := NewServices(ctx, config, log)
	if err != nil {
		return err
	}

	watcher, err := templates.NewWatcher(svc.Templates)
	if err != nil {
		log.Warn("template watcher disabled", zap.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		log.Warn("template watcher disabled", zap.Error(err))
	} else {
		defer watcher.Stop()
	}

	handler := NewHandler(config, svc, log)
	authHandler := NewAuthHandler(ctx, config, svc, log)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", config.Server.Port),
		Handler:      NewRouter(config, handler, authHandler, log),
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Cache-Control"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
