package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/toolgate/toolgate/internal/bonus"
	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/clock"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/cooldown"
	"github.com/toolgate/toolgate/internal/db"
	"github.com/toolgate/toolgate/internal/entitlement"
	adminapi "github.com/toolgate/toolgate/internal/http/api/admin"
	"github.com/toolgate/toolgate/internal/http/api/front"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/internal/metering"
	"github.com/toolgate/toolgate/internal/run"
	"github.com/toolgate/toolgate/internal/usagewindow"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the quota engine with database-backed components and
// serves until the context is cancelled.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	fileCfg, errLoad := config.Load(configPath)
	if errLoad != nil {
		return errLoad
	}
	dsn, errDSN := config.LoadDatabaseDSN(configPath)
	if errDSN != nil {
		return errDSN
	}
	conn, errOpen := db.Open(dsn)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	engine, errBuild := buildEngine(conn, fileCfg)
	if errBuild != nil {
		return errBuild
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errServe == http.ErrServerClosed {
			return nil
		}
		return errServe
	}
}

// buildEngine wires stores, the orchestrator, and routes into a gin engine.
func buildEngine(conn *gorm.DB, fileCfg config.FileConfig) (*gin.Engine, error) {
	clockResolver, errClock := clock.NewResolver(fileCfg.Timezone)
	if errClock != nil {
		return nil, errClock
	}

	cat := catalog.New(conn)
	resolver := entitlement.NewResolver(conn, cat)
	windows := usagewindow.NewTracker(conn, clockResolver)
	ledgerStore := ledger.NewStore(conn)
	bonusStore := bonus.NewStore(conn)
	cooldowns := cooldown.NewManager(func() config.RedisConfig { return fileCfg.Redis }, nil, nil)
	meter := metering.NewMeter(conn, ledgerStore, bonusStore, windows)
	orchestrator := run.NewOrchestrator(cat, resolver, windows, ledgerStore, bonusStore, cooldowns, meter, run.EchoExecutor{}, nil)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", front.HeaderActorID, front.HeaderPlanID, front.HeaderOrgID},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	engine.GET("/healthz", func(c *gin.Context) {
		sqlDB, errDB := conn.DB()
		if errDB != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	front.RegisterFrontRoutes(engine, cat, orchestrator)
	adminapi.RegisterAdminRoutes(engine, conn, ledgerStore, bonusStore, fileCfg.AdminToken)

	return engine, nil
}
