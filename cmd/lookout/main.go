package main

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/DaveCybr/couple-guard/internal/alerts"
	"github.com/DaveCybr/couple-guard/internal/guard"
	"github.com/DaveCybr/couple-guard/internal/handlers"
	"github.com/DaveCybr/couple-guard/internal/history"
	"github.com/DaveCybr/couple-guard/internal/ingest"
	"github.com/DaveCybr/couple-guard/internal/locations"
	"github.com/DaveCybr/couple-guard/internal/metrics"
	"github.com/DaveCybr/couple-guard/internal/notifications"
	"github.com/DaveCybr/couple-guard/internal/policy"
	"github.com/DaveCybr/couple-guard/internal/rules"
	"github.com/DaveCybr/couple-guard/internal/websocket"
	"github.com/DaveCybr/couple-guard/pkg/auth"
	"github.com/DaveCybr/couple-guard/pkg/config"
	"github.com/DaveCybr/couple-guard/pkg/database"
	"github.com/DaveCybr/couple-guard/pkg/kafka"
	"github.com/DaveCybr/couple-guard/pkg/logging"
	"github.com/DaveCybr/couple-guard/pkg/models"
	"github.com/DaveCybr/couple-guard/pkg/monitoring"
	"github.com/DaveCybr/couple-guard/pkg/server"
	"github.com/DaveCybr/couple-guard/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("lookout")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Lookout (monitoring pipeline)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("lookout", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("lookout", version.Version, version.GitCommit)
	serviceMetrics := metrics.New(metricsCollector)

	// Connect to Postgres (policies, alerts, notifications)
	pgConfig := database.DefaultConfig()
	pgConfig.URL = config.RequireEnv("DATABASE_URL")
	pgConn := database.MustConnect(pgConfig, logger)
	defer pgConn.Close()

	// Connect to ClickHouse (location time series)
	chConfig := database.ClickHouseConfigFromURL(
		config.GetEnv("CLICKHOUSE_ADDRS", "localhost:9000"),
		config.GetEnv("CLICKHOUSE_DB", "lookout"),
		config.GetEnv("CLICKHOUSE_USER", "default"),
		config.GetEnv("CLICKHOUSE_PASSWORD", ""),
	)
	chConn, err := database.ConnectClickHouse(chConfig, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer chConn.Close()

	if config.GetEnvBool("AUTO_MIGRATE", false) {
		logger.Info("Applying embedded schemas")
		if err := database.ApplyEmbeddedSchema(context.Background(), pgConn, "schema/monitoring.sql"); err != nil {
			logger.WithError(err).Fatal("Failed to apply Postgres schema")
		}
		if err := database.ApplyEmbeddedSchema(context.Background(), chConn, "clickhouse/location_samples.sql"); err != nil {
			logger.WithError(err).Fatal("Failed to apply ClickHouse schema")
		}
	}

	// Build the pipeline
	pairing := guard.New(pgConn, logger)
	policyStore := policy.NewCached(
		policy.New(pgConn, logger),
		config.GetEnvDuration("POLICY_CACHE_TTL", policy.DefaultCacheTTL),
	)
	alertStore := alerts.New(pgConn, logger)
	sampleStore := locations.New(chConn, logger)
	mirrorStore := notifications.New(pgConn, logger)
	engine := rules.NewEngine(alertStore, logger)
	engine.SetSuppressionHook(func(kind models.AlertKind) {
		serviceMetrics.AlertsSuppressed.WithLabelValues(string(kind)).Inc()
	})

	jwtSecret := config.RequireEnv("JWT_SECRET")

	hub := websocket.NewHub(jwtSecret, pairing.IsAuthorizedViewer, logger)
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// With Kafka configured, committed events go through the monitoring topic
	// and a consumer feeds the hub. Without brokers the pipeline dispatches
	// straight to the hub.
	var publisher ingest.EventPublisher = hub
	brokersEnv := config.GetEnv("KAFKA_BROKERS", "")
	if brokersEnv != "" {
		brokers := strings.Split(brokersEnv, ",")
		clientID := config.GetEnv("KAFKA_CLIENT_ID", "lookout")
		groupID := config.GetEnv("KAFKA_GROUP_ID", "lookout-group")

		producer, err := kafka.NewProducer(brokers, clientID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Kafka producer")
		}
		defer producer.Close()
		publisher = producer

		consumer, err := kafka.NewConsumer(brokers, groupID, clientID, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize Kafka consumer")
		}
		defer consumer.Close()

		consumer.AddHandler(kafka.MonitoringTopic, func(ctx context.Context, msg kafka.Message) error {
			var event kafka.MonitoringEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				logger.WithError(err).Warn("Skipping malformed monitoring event")
				return nil
			}
			serviceMetrics.KafkaMessages.WithLabelValues(msg.Topic, "consume", "ok").Inc()
			return hub.PublishMonitoringEvent(&event)
		})

		go func() {
			if err := consumer.Start(ctx); err != nil {
				logger.WithError(err).Error("Kafka consumer error")
			}
		}()

		healthChecker.AddCheck("kafka", monitoring.KafkaHealthCheck(producer.GetClient()))
		logger.WithFields(logging.Fields{"brokers": brokersEnv}).Info("Kafka event transport enabled")
	} else {
		logger.Info("KAFKA_BROKERS not set, dispatching events directly to the hub")
	}

	locationService := ingest.NewLocationService(sampleStore, policyStore, engine, publisher, logger)
	notificationService := ingest.NewNotificationService(mirrorStore, policyStore, engine, publisher, logger)
	historyAgg := history.New(pairing, sampleStore, logger)

	lookoutHandlers := handlers.NewLookoutHandlers(
		locationService,
		notificationService,
		mirrorStore,
		historyAgg,
		hub,
		serviceMetrics,
		logger,
	)

	// Health checks
	healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(pgConn))
	healthChecker.AddCheck("clickhouse", monitoring.DatabaseHealthCheck(chConn))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": pgConfig.URL,
		"JWT_SECRET":   jwtSecret,
	}))

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "lookout", healthChecker, metricsCollector)

	authRequired := auth.JWTAuthMiddleware([]byte(jwtSecret))

	// Subject device routes
	device := router.Group("/", authRequired, auth.RequireRole(auth.RoleChild))
	device.POST("/location/update", lookoutHandlers.UpdateLocation)
	device.POST("/notification/send", lookoutHandlers.SendNotification)
	device.POST("/notification/batch-send", lookoutHandlers.BatchSendNotifications)

	// Viewer routes
	viewer := router.Group("/", authRequired, auth.RequireRole(auth.RoleParent))
	viewer.GET("/location/track/:subjectID", lookoutHandlers.TrackLocation)
	viewer.GET("/location/history/:subjectID", lookoutHandlers.LocationHistory)
	viewer.GET("/location/track-all", lookoutHandlers.TrackAll)
	viewer.GET("/notification/list/:subjectID", lookoutHandlers.ListNotifications)
	viewer.POST("/notification/mark-read", lookoutHandlers.MarkNotificationsRead)

	// WebSocket clients authenticate in-band at subscribe time
	router.GET("/ws", lookoutHandlers.HandleWebSocket)

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("lookout", "18080")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
