package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/healthtrack/healthtrack/internal/catalog"
	"github.com/healthtrack/healthtrack/internal/config"
	"github.com/healthtrack/healthtrack/internal/handlers"
	"github.com/healthtrack/healthtrack/internal/middleware"
	"github.com/healthtrack/healthtrack/internal/repository"
	"github.com/healthtrack/healthtrack/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if err := cfg.RequireServerSecret(); err != nil {
		logger.WithError(err).Fatal("Invalid server configuration")
	}

	cat, err := catalog.Load(cfg.Metrics.CatalogPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load metric catalog")
	}
	logger.WithFields(logrus.Fields{
		"categories": len(cat.Categories),
		"metrics":    len(cat.Metrics),
	}).Info("Metric catalog loaded")

	dynamoClient, err := initDynamoDB(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize DynamoDB")
	}

	measurementRepo := repository.NewMeasurementRepository(dynamoClient, cfg.DynamoDB.TableName, logger)

	tokenService, err := service.NewTokenService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token service")
	}
	metricsService := service.NewMetricsService(cat, measurementRepo, &cfg.Metrics, logger)

	metricsHandlers := handlers.NewMetricsHandlers(metricsService, logger)
	authMiddleware := middleware.NewAuthMiddleware(tokenService, logger)
	router := setupRouter(metricsHandlers, authMiddleware, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

func initDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDB.Endpoint != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(),
			awsconfig.WithRegion(cfg.DynamoDB.Region),
			awsconfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
				func(service, region string, options ...interface{}) (aws.Endpoint, error) {
					return aws.Endpoint{
						URL:           cfg.DynamoDB.Endpoint,
						SigningRegion: cfg.DynamoDB.Region,
					}, nil
				})),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO(), awsconfig.WithRegion(cfg.DynamoDB.Region))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)
	logger.WithField("table", cfg.DynamoDB.TableName).Info("DynamoDB client initialized")
	return client, nil
}

func setupRouter(
	metricsHandlers *handlers.MetricsHandlers,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware.RequireAuth)

	metrics := api.PathPrefix("/metrics").Subrouter()
	metrics.HandleFunc("", metricsHandlers.ListMetrics).Methods("GET", "OPTIONS")
	metrics.HandleFunc("/{metric}/history", metricsHandlers.History).Methods("GET", "OPTIONS")
	metrics.HandleFunc("/{metric}/measurements", metricsHandlers.RecordMeasurement).Methods("POST", "OPTIONS")
	metrics.HandleFunc("/{metric}/measurements/{id}", metricsHandlers.DeleteMeasurement).Methods("DELETE", "OPTIONS")
	metrics.HandleFunc("/{metric}/chart", metricsHandlers.Chart).Methods("GET", "OPTIONS")
	metrics.HandleFunc("/{metric}/insights", metricsHandlers.Insights).Methods("GET", "OPTIONS")

	return router
}
