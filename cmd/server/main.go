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
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ntkwan/csc13114-auth-with-jwt/internal/config"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/handlers"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/middleware"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/repository"
	"github.com/ntkwan/csc13114-auth-with-jwt/internal/service"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	userRepo, err := initUserRepository(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize user repository")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Endpoint,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}

	tokenService, err := service.NewTokenService(&cfg.JWT, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize token service")
	}

	sessionStore := service.NewSessionStore(redisClient, logger)
	authService := service.NewAuthService(tokenService, sessionStore, userRepo, logger)

	authHandlers := handlers.NewAuthHandlers(authService, logger)
	authMiddleware := middleware.NewAuthMiddleware(tokenService, logger)

	router := mux.NewRouter()
	router.Use(middleware.CORSMiddleware)
	router.Use(middleware.LoggingMiddleware(logger))
	authHandlers.Routes(router, authMiddleware)

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

func initUserRepository(cfg *config.Config, logger *logrus.Logger) (repository.UserRepository, error) {
	if cfg.Server.UserStore == "memory" {
		logger.Warn("Using in-memory user store; users will not survive a restart")
		return repository.NewMemoryUserRepository(), nil
	}

	dynamoClient, err := initDynamoDB(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("DynamoDB client initialized")
	return repository.NewDynamoUserRepository(dynamoClient, cfg.DynamoDB.TableName, logger), nil
}

func initDynamoDB(cfg *config.Config) (*dynamodb.Client, error) {
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
		awsCfg, err = awsconfig.LoadDefaultConfig(context.TODO())
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return dynamodb.NewFromConfig(awsCfg), nil
}
