package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"wisefido-iotcore/internal/config"
	"wisefido-iotcore/internal/consumer"
	"wisefido-iotcore/internal/events"
	httpapi "wisefido-iotcore/internal/http"
	"wisefido-iotcore/internal/hub"
	"wisefido-iotcore/internal/monitor"
	"wisefido-iotcore/internal/notify"
	"wisefido-iotcore/internal/provision"
	"wisefido-iotcore/internal/repository"
	"wisefido-iotcore/internal/service"
	"wisefido-iotcore/internal/store"
	"wisefido-iotcore/owl-common/database"
	mqttcommon "wisefido-iotcore/owl-common/mqtt"
	rediscommon "wisefido-iotcore/owl-common/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// App the iotcore process: ingest, sweepers, viewer hub and HTTP API
type App struct {
	config *config.Config
	logger *zap.Logger

	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client

	hub      *hub.Hub
	consumer *consumer.MQTTConsumer
	monitors []*monitor.Loop
	server   *service.Server
}

// New connects the backing stores and the broker and wires every component
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	provisioner, err := provision.New(cfg.Provision, logger)
	if err != nil {
		return nil, err
	}

	var st *repository.Store
	if cfg.DBEnabled {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		st = repository.NewPostgresStore(db, logger)
	} else {
		logger.Warn("Database disabled, using in-memory store")
		st = repository.NewMemoryStore().Store()
	}

	if cfg.RedisEnabled {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), client); err != nil {
			a.closeStores()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
	}

	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		a.closeStores()
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}
	a.mqttClient = mqttClient

	lookup := store.DeviceLookup(st.Devices)
	var cache service.CacheInvalidator
	if a.redis != nil {
		dc := store.NewDeviceCache(store.NewRedisKV(a.redis), st.Devices, cfg.DeviceCache.TTL, logger)
		lookup, cache = dc, dc
	}

	sessions := service.NewSessionService(st.Sessions, cfg.Session.TTL, logger)
	a.hub = hub.New(sessions, st.Devices, logger)

	publisher := events.Multi{a.hub}
	if a.redis != nil && cfg.Events.StreamEnabled {
		publisher = append(publisher, events.NewStreamMirror(a.redis, cfg.Events.StreamName, cfg.Events.StreamMaxLen, logger))
	}

	notifier := notify.NewNotifier(st.Notifications, publisher, cfg.Notification.DedupeWindow, logger)
	ingestor := consumer.NewIngestor(lookup, st.Devices, st.Components, publisher, notifier, logger)
	a.consumer = consumer.NewMQTTConsumer(mqttClient, ingestor, cfg.MQTT.QoS, logger)

	m := cfg.Monitor
	a.monitors = []*monitor.Loop{
		monitor.NewLoop(monitor.NewDeviceOffline(st.Devices, notifier, m.DeviceOfflineAfter, logger), m.DeviceOfflineCheck, logger),
		monitor.NewLoop(monitor.NewComponentOffline(st.Components, notifier, m.ComponentOfflineAfter, logger), m.ComponentOfflineCheck, logger),
		monitor.NewLoop(monitor.NewAutoHide(st.Components, m.ComponentHideAfter, logger), m.ComponentHideCheck, logger),
	}

	auth := httpapi.NewAuthenticator(sessions, logger)
	authSvc := service.NewAuthService(st.Users, sessions, logger)
	claims := service.NewClaimService(st.Devices, provisioner, cache, cfg.Claim.TokenTTL, logger)
	devices := service.NewDeviceService(st.Devices, st.Components, cache, logger)
	commands := service.NewCommandService(st.Devices, st.Components, mqttClient, logger)
	notifications := service.NewNotificationService(st.Notifications, publisher)

	router := httpapi.NewRouter(logger)
	router.RegisterHealth()
	router.RegisterAuthRoutes(httpapi.NewAuthHandler(authSvc, auth, logger))
	router.RegisterDeviceRoutes(httpapi.NewDevicesHandler(devices, claims, commands, auth, logger))
	router.RegisterNotificationRoutes(httpapi.NewNotificationsHandler(notifications, auth, logger))
	router.RegisterExportRoutes(httpapi.NewExportHandler(devices, auth, logger))
	router.RegisterViewerRoutes(http.HandlerFunc(a.hub.ServeWS))

	a.server = service.NewServer(cfg.HTTP.Addr, router, logger)
	return a, nil
}

// Start subscribes to device topics, starts the sweepers and serves HTTP in the background
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("Starting iotcore components")

	if err := a.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MQTT consumer: %w", err)
	}
	for _, m := range a.monitors {
		if err := m.Start(ctx); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
	}

	go func() {
		if err := a.server.Start(); err != nil {
			a.logger.Error("HTTP server failed", zap.Error(err))
		}
	}()

	a.logger.Info("Iotcore started successfully", zap.String("http_addr", a.config.HTTP.Addr))
	return nil
}

// Stop tears everything down in reverse order
func (a *App) Stop(ctx context.Context) error {
	a.logger.Info("Stopping iotcore")

	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			a.logger.Error("Error stopping HTTP server", zap.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
	for _, m := range a.monitors {
		m.Stop()
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			a.logger.Error("Error stopping consumer", zap.Error(err))
		}
	}
	if a.mqttClient != nil {
		a.mqttClient.Disconnect()
	}
	a.closeStores()

	a.logger.Info("Iotcore stopped")
	return nil
}

func (a *App) closeStores() {
	if a.redis != nil {
		rediscommon.Close(a.redis)
		a.redis = nil
	}
	if a.db != nil {
		database.Close(a.db)
		a.db = nil
	}
}
