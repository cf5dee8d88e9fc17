package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/threadloom/threadloom-backend/internal/data/actor"
	"github.com/threadloom/threadloom-backend/internal/db"
	httpX "github.com/threadloom/threadloom-backend/internal/http"
	httpH "github.com/threadloom/threadloom-backend/internal/http/handlers"
	httpMW "github.com/threadloom/threadloom-backend/internal/http/middleware"
	"github.com/threadloom/threadloom-backend/internal/llm"
	"github.com/threadloom/threadloom-backend/internal/observability"
	"github.com/threadloom/threadloom-backend/internal/platform/envutil"
	"github.com/threadloom/threadloom-backend/internal/platform/keyseal"
	"github.com/threadloom/threadloom-backend/internal/platform/logger"
	"github.com/threadloom/threadloom-backend/internal/repos"
	"github.com/threadloom/threadloom-backend/internal/services"
	"github.com/threadloom/threadloom-backend/internal/sse"
)

type App struct {
	Log    *logger.Logger
	Cfg    Config
	Router *gin.Engine

	central      *db.CentralService
	actors       *actor.Registry
	bus          services.SSEBus
	hub          *sse.SSEHub
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := envutil.Str("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg := LoadConfig()

	ctx, cancel := context.WithCancel(context.Background())

	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "threadloom",
		Environment: cfg.Environment,
		Version:     cfg.Version,
	})

	central, err := db.NewCentralService(log)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("init central db: %w", err)
	}
	if err := central.AutoMigrateAll(); err != nil {
		cancel()
		return nil, fmt.Errorf("central automigrate: %w", err)
	}
	theDB := central.DB()

	actors := actor.NewRegistry(actor.Options{
		DataDir:     cfg.DataDir,
		IdleTTL:     cfg.ActorIdleTTL,
		MailboxSize: cfg.ActorMailboxSize,
	}, log)

	sealer, err := keyseal.New(cfg.MasterSecret)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("init key sealer: %w", err)
	}

	catalog, err := llm.LoadCatalog(cfg.ModelCatalogPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load model catalog: %w", err)
	}
	builtins, err := loadBuiltinToolServers(cfg.ToolServersPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load builtin tool servers: %w", err)
	}

	// Repos
	userRepo := repos.NewUserRepo(theDB, log)
	settingsRepo := repos.NewSettingsRepo(theDB, log)
	toolServerRepo := repos.NewToolServerRepo(theDB, log)

	// SSE: hub fans out to connected clients; the bus carries events
	// across instances when Redis is configured.
	hub := sse.NewSSEHub(log)
	var bus services.SSEBus
	if envutil.Str("REDIS_ADDR", "") != "" {
		bus, err = services.NewRedisSSEBus(log)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
	} else {
		bus = services.NewLocalSSEBus(log)
	}
	if err := bus.StartForwarder(ctx, hub.Broadcast); err != nil {
		cancel()
		return nil, fmt.Errorf("start sse forwarder: %w", err)
	}

	// Services
	authService := services.NewAuthService(theDB, log, userRepo, cfg.JWTSecretKey, cfg.AccessTokenTTL)
	settingsService := services.NewSettingsService(theDB, log, settingsRepo, sealer)
	toolServerService := services.NewToolServerService(theDB, log, toolServerRepo, builtins)
	usageService := services.NewUsageService(actors, log, int64(cfg.QuotaDaily), int64(cfg.QuotaMonthly))
	titleGen := services.NewLLMTitleGenerator(catalog, cfg.TitleModelID, cfg.AppKeys, log)
	titleService := services.NewTitleService(actors, titleGen, bus, log)
	completionService := services.NewCompletionService(
		actors,
		settingsService,
		usageService,
		toolServerService,
		titleService,
		catalog,
		cfg.AppKeys,
		services.CompletionConfig{
			DefaultModelID:   cfg.DefaultModelID,
			HistoryWindow:    cfg.HistoryWindow,
			MaxToolSteps:     cfg.MaxToolSteps,
			WebSearchEnabled: cfg.WebSearchEnabled,
			SearchAPIKey:     cfg.SearchAPIKey,
		},
		log,
	)

	// Handlers
	authHandler := httpH.NewAuthHandler(authService)
	conversationHandler := httpH.NewConversationHandler(log, actors, bus)
	chatHandler := httpH.NewChatHandler(log, completionService, bus)
	settingsHandler := httpH.NewSettingsHandler(settingsService)
	toolServerHandler := httpH.NewToolServerHandler(toolServerService)
	usageHandler := httpH.NewUsageHandler(usageService)
	modelsHandler := httpH.NewModelsHandler(catalog)
	realtimeHandler := httpH.NewRealtimeHandler(log, hub)

	authMiddleware := httpMW.NewAuthMiddleware(log, authService)

	router := httpX.NewRouter(httpX.RouterConfig{
		Log:            log,
		ServiceName:    "threadloom",
		TracingEnabled: observability.Enabled(),
		CORSOrigins:    cfg.CORSOrigins,

		AuthHandler:         authHandler,
		AuthMiddleware:      authMiddleware,
		ConversationHandler: conversationHandler,
		ChatHandler:         chatHandler,
		SettingsHandler:     settingsHandler,
		ToolServerHandler:   toolServerHandler,
		UsageHandler:        usageHandler,
		ModelsHandler:       modelsHandler,
		RealtimeHandler:     realtimeHandler,
	})

	return &App{
		Log:          log,
		Cfg:          cfg,
		Router:       router,
		central:      central,
		actors:       actors,
		bus:          bus,
		hub:          hub,
		otelShutdown: otelShutdown,
		cancel:       cancel,
	}, nil
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + a.Cfg.Port,
		Handler: a.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Log.Warn("server shutdown", "error", err)
	}
	return nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.actors != nil {
		a.actors.Close()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.Log.Warn("close sse bus", "error", err)
		}
	}
	if a.central != nil {
		if err := a.central.Close(); err != nil {
			a.Log.Warn("close central db", "error", err)
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.Log.Warn("otel shutdown", "error", err)
		}
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
