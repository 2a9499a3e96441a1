package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/avarra/reelforge/internal/db"
	"github.com/avarra/reelforge/internal/jobs/worker"
	"github.com/avarra/reelforge/internal/observability"
	"github.com/avarra/reelforge/internal/platform/logger"
	"github.com/avarra/reelforge/internal/services"
	"github.com/avarra/reelforge/internal/sse"
)

const observabilityShutdownTimeout = 5 * time.Second

// App is the wiring root: one of each client, repo, service, and
// handler set, constructed once and threaded through explicitly.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Clients  Clients
	Services Services
	SSEHub   *sse.SSEHub

	worker       *worker.Worker
	bus          services.SSEBus
	metrics      *observability.Metrics
	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	metrics := observability.Init(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	hub := sse.NewSSEHub(log)
	reposet := wireRepos(theDB, log)

	clientset, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	serviceset, err := wireServices(theDB, log, cfg, reposet, clientset, hub)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, hub)
	mw := wireMiddleware(log, serviceset)
	router := wireRouter(log, handlerset, mw, metrics)

	w, err := wireWorker(theDB, log, reposet, serviceset, clientset)
	if err != nil {
		log.Sync()
		return nil, err
	}

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Clients:  clientset,
		Services: serviceset,
		SSEHub:   hub,
		worker:   w,
		metrics:  metrics,
	}, nil
}

// Start launches the background components: OTel, the metrics server
// and collectors, the worker pool (when this replica runs jobs), and
// the cross-replica SSE forwarder (when Redis is configured).
func (a *App) Start(runServer, runWorker bool) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.otelShutdown = observability.InitOTel(ctx, a.Log, observability.OtelConfig{
		ServiceName: "reelforge",
		Environment: a.Cfg.Environment,
		Version:     a.Cfg.Version,
	})

	if a.metrics != nil {
		a.metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.metrics.StartJobQueueCollector(ctx, a.Log, a.DB)
		if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
			a.metrics.StartRedisCollector(ctx, a.Log, addr)
		}
	}

	if runWorker {
		a.worker.Start(ctx)
	}

	if runServer {
		if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
			bus, err := services.NewRedisSSEBus(a.Log)
			if err != nil {
				a.Log.Warn("SSE bus unavailable, events stay replica-local", "error", err)
			} else {
				a.bus = bus
				if err := bus.StartForwarder(ctx, func(m sse.SSEMessage) {
					a.SSEHub.Broadcast(m)
				}); err != nil {
					a.Log.Warn("SSE forwarder failed to start", "error", err)
				}
			}
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	return a.Router.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.bus != nil {
		_ = a.bus.Close()
	}
	if a.otelShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), observabilityShutdownTimeout)
		defer cancel()
		_ = a.otelShutdown(shutdownCtx)
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
