package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-svc/cache"
	"storefront-svc/database"
	"storefront-svc/handlers"
	"storefront-svc/kafka"
	"storefront-svc/middleware"
	"storefront-svc/payments"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := database.InitDB(logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize Redis cache
	redisClient, err := cache.InitRedis(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Redis", zap.Error(err))
	}
	defer redisClient.Close()

	// Initialize Kafka producer
	producer, err := kafka.InitProducer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
	}
	defer producer.Close()

	// Initialize Kafka consumer
	consumer, err := kafka.InitConsumer(logger)
	if err != nil {
		logger.Fatal("Failed to initialize Kafka consumer", zap.Error(err))
	}
	defer consumer.Close()

	// Start notification consumer in background
	go func() {
		if err := kafka.StartNotifier(consumer, logger); err != nil {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	// Initialize OpenTelemetry
	shutdown, err := middleware.InitTracing("storefront")
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdown()

	// Payment gateway client
	gateway := payments.NewClient(logger)

	// Setup REST API with Gin
	router := gin.New()
	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware("storefront"))
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware())

	authHandler := handlers.NewAuthHandler(db, logger)
	productHandler := handlers.NewProductHandler(db, redisClient, logger)
	offerHandler := handlers.NewOfferHandler(db, logger)
	orderHandler := handlers.NewOrderHandler(db, redisClient, producer, logger)
	paymentHandler := handlers.NewPaymentHandler(db, gateway, producer, logger)
	eventHandler := handlers.NewEventHandler(db, producer, logger)
	meetupHandler := handlers.NewMeetupHandler(db, logger)

	api := router.Group("/api")
	{
		api.GET("/health", handlers.HealthCheck)

		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)

		api.GET("/products", productHandler.GetProducts)
		api.GET("/products/:id", productHandler.GetProduct)

		api.GET("/offers", offerHandler.GetOffers)
		api.GET("/offers/:code", offerHandler.GetOfferByCode)

		api.GET("/events", eventHandler.GetEvents)
		api.GET("/events/:id", eventHandler.GetEvent)

		api.GET("/meetups", meetupHandler.GetMeetups)
		api.GET("/meetups/:id", meetupHandler.GetMeetup)

		// Gateway calls back here, authenticated by signature
		api.POST("/payment/webhook", paymentHandler.Webhook)
	}

	authed := api.Group("")
	authed.Use(middleware.AuthRequired())
	{
		authed.POST("/offers/validate", offerHandler.ValidateOffer)

		authed.POST("/orders", orderHandler.CreateOrder)
		authed.GET("/orders", orderHandler.GetOrders)
		authed.GET("/orders/:id", orderHandler.GetOrder)
		authed.PUT("/orders/:id/cancel", orderHandler.CancelOrder)

		authed.POST("/payment/create-intent", paymentHandler.CreateIntent)
		authed.POST("/payment/confirm", paymentHandler.ConfirmPayment)

		authed.POST("/events/:id/register", eventHandler.Register)
		authed.DELETE("/events/:id/register", eventHandler.CancelRegistration)

		authed.POST("/meetups", meetupHandler.CreateMeetup)
		authed.POST("/meetups/:id/join", meetupHandler.Join)
		authed.DELETE("/meetups/:id/join", meetupHandler.Leave)
	}

	admin := api.Group("")
	admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
	{
		admin.POST("/products", productHandler.CreateProduct)
		admin.PUT("/products/:id", productHandler.UpdateProduct)
		admin.DELETE("/products/:id", productHandler.DeleteProduct)

		admin.POST("/offers", offerHandler.CreateOffer)

		admin.POST("/events", eventHandler.CreateEvent)
	}

	// Metrics endpoint
	router.GET("/metrics", middleware.PrometheusHandler())

	srv := &http.Server{
		Addr:    ":" + getEnv("PORT", "8080"),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Storefront API started", zap.String("addr", srv.Addr))

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
