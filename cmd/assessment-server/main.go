package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeassess/internal/assessment/controller"
	"codeassess/internal/assessment/credential"
	"codeassess/internal/assessment/evaluation"
	"codeassess/internal/assessment/events"
	"codeassess/internal/assessment/persistence"
	"codeassess/internal/assessment/session"
	"codeassess/internal/common/cache"
	commonmw "codeassess/internal/common/http/middleware"
	"codeassess/internal/common/mq"
	"codeassess/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConfigPath = "configs/assessment_server.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()
	os.Exit(serve(*configPath))
}

// serve runs the server to completion and returns the process exit code.
func serve(configPath string) int {
	appCfg, err := loadAppConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return 1
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 1
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "assessment server stopped", zap.Error(err))
		return 1
	}
	return 0
}

func run(appCfg *AppConfig) error {
	deps := session.Dependencies{
		Evaluation: evaluation.NewHTTPClient(appCfg.Services.Execution),
		Store:      persistence.NewHTTPStore(appCfg.Services.Persistence),
		Publisher:  events.NopPublisher{},
	}

	var limiter *commonmw.RateLimiter
	if appCfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		defer func() {
			_ = redisCache.Close()
		}()
		deps.Guard = session.NewRedisSubmitGuard(redisCache, appCfg.Guard.SubmitTTL, appCfg.Guard.CacheTimeout)
		deps.Pastes = session.NewRedisPasteLedger(redisCache, appCfg.Guard.PasteTTL, appCfg.Guard.CacheTimeout)
		if appCfg.RateLimit.Enabled() {
			limiter = commonmw.NewRateLimiter(redisCache, appCfg.RateLimit.Window, appCfg.Guard.CacheTimeout)
		}
	} else {
		logger.Warn(context.Background(), "redis not configured, submit guard is process local")
	}

	if len(appCfg.Events.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Events.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka failed: %w", err)
		}
		defer func() {
			_ = producer.Close()
		}()
		deps.Publisher = events.NewMQPublisher(producer, appCfg.Events.Topic)
	}

	manager := session.NewManager(appCfg.Session, deps, credential.NewDecoder(appCfg.Credential))

	httpServer := buildHTTPServer(appCfg, manager, limiter)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(signalCtx)

	manager.StartSweeper(ctx)
	g.Go(func() error {
		logger.Info(ctx, "assessment http server started", zap.String("addr", appCfg.Server.Addr))
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info(context.Background(), "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "http server shutdown failed", zap.Error(err))
		}
		manager.Shutdown(shutdownCtx)
		return nil
	})
	return g.Wait()
}

func buildHTTPServer(appCfg *AppConfig, manager *session.Manager, limiter *commonmw.RateLimiter) *http.Server {
	cfg := appCfg.Server
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(appCfg.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": manager.Len()})
	})
	sessions := controller.NewSessionController(manager)
	if limiter != nil {
		sessions.WithExecutionLimit(commonmw.RateLimitMiddleware(limiter, "execute", appCfg.RateLimit))
	}
	sessions.Register(router.Group("/api/v1/sessions"))

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
