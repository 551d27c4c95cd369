package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/common/database"
	mqttcommon "github.com/LauraMoney42/SecureHeart-sub001/internal/common/mqtt"
	rediscommon "github.com/LauraMoney42/SecureHeart-sub001/internal/common/redis"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/config"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/consumer"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/engine"
	httpapi "github.com/LauraMoney42/SecureHeart-sub001/internal/http"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/notifier"
	"github.com/LauraMoney42/SecureHeart-sub001/internal/repository"

	"go.uber.org/zap"
)

// MonitorService 姿态心率监测服务
// 接入手表遥测（MQTT）、运行检测引擎（Streams 消费）、对外提供查询 API
type MonitorService struct {
	config         *config.Config
	logger         *zap.Logger
	db             *sql.DB
	redisClient    *rediscommon.Client
	mqttClient     *mqttcommon.Client
	mqttConsumer   *consumer.MQTTConsumer
	streamConsumer *consumer.StreamConsumer
	httpServer     *Server
}

// NewMonitorService 创建监测服务
func NewMonitorService(cfg *config.Config, logger *zap.Logger) (*MonitorService, error) {
	// 初始化数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	// 创建Repository
	eventsRepo := repository.NewOrthostaticEventsRepository(db, logger)
	changesRepo := repository.NewSignificantChangesRepository(db, logger)

	// 创建CacheManager
	cacheManager := consumer.NewCacheManager(cfg, redisClient, logger)

	// 报警回调客户端（未配置时报警只落流不外呼）
	var notifierClient *notifier.Client
	if cfg.Notifier.Enabled && cfg.Notifier.URL != "" {
		notifierClient = notifier.NewClient(cfg.Notifier.URL, cfg.Notifier.Timeout, cfg.Notifier.Retry, logger)
		logger.Info("Alert webhook enabled", zap.String("url", cfg.Notifier.URL))
	}

	// 创建分发器与引擎注册表
	dispatcher := consumer.NewDispatcher(cfg, redisClient, eventsRepo, changesRepo, cacheManager, notifierClient, logger)
	registry := consumer.NewEngineRegistry(engine.DefaultConfig(), cacheManager, logger)

	// 创建Consumer
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, redisClient, logger)
	streamConsumer := consumer.NewStreamConsumer(cfg, redisClient, registry, dispatcher, cacheManager, logger)

	// 查询 API
	handler := httpapi.NewMonitorHandler(eventsRepo, changesRepo, cacheManager, logger)
	router := httpapi.NewRouter(logger)
	router.RegisterMonitorRoutes(handler)
	httpServer := NewServer(cfg.HTTP.Addr, router, logger)

	return &MonitorService{
		config:         cfg,
		logger:         logger,
		db:             db,
		redisClient:    redisClient,
		mqttClient:     mqttClient,
		mqttConsumer:   mqttConsumer,
		streamConsumer: streamConsumer,
		httpServer:     httpServer,
	}, nil
}

// Start 启动服务
// 流消费在当前协程阻塞运行，ctx 取消后返回
func (s *MonitorService) Start(ctx context.Context) error {
	s.logger.Info("Starting monitor service components")

	// 启动MQTT消费者
	if err := s.mqttConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}

	// 启动查询 API
	go func() {
		if err := s.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server exited", zap.Error(err))
		}
	}()

	s.logger.Info("Monitor service started successfully")

	// 启动Stream消费者
	if err := s.streamConsumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}

	return nil
}

// Stop 停止服务
func (s *MonitorService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping monitor service")

	// 停止Consumer
	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping MQTT consumer", zap.Error(err))
		}
	}

	// 断开MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭查询 API
	if s.httpServer != nil {
		if err := s.httpServer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping HTTP server", zap.Error(err))
		}
	}

	// 关闭Redis
	if s.redisClient != nil {
		rediscommon.Close(s.redisClient)
	}

	// 关闭数据库
	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("Monitor service stopped")
	return nil
}
