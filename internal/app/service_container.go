package app

import (
	"fmt"
	"sync"
	"time"

	"relay-backend/internal/chain"
	"relay-backend/internal/config"
	"relay-backend/internal/db"
	"relay-backend/internal/events"
	"relay-backend/internal/plan"
	"relay-backend/internal/relay"
	"relay-backend/internal/repository"
	"relay-backend/internal/services"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ServiceContainer wires repositories, clients and services once at startup.
type ServiceContainer struct {
	// Database
	DB *gorm.DB

	// Repositories
	GasTankRepo    repository.GasTankRepository
	SubmissionRepo repository.SubmissionRepository

	// Clients
	ChainClient *chain.Client
	RelayClient relay.Client

	// Events
	EventPublisher *events.Publisher

	// Core Services. ExecutionService has no HTTP route: its entry points
	// need the account holder's signer, so it is consumed by embedding
	// callers rather than the server surface.
	Planner          *plan.Planner
	ExecutionService *services.ExecutionService
	GasTankService   *services.GasTankService

	Logger *logrus.Logger
}

// Global service container instance
var Container *ServiceContainer
var containerOnce sync.Once

// InitializeContainer builds the container exactly once.
func InitializeContainer(logger *logrus.Logger) (*ServiceContainer, error) {
	var initErr error

	containerOnce.Do(func() {
		if config.AppConfig == nil {
			initErr = fmt.Errorf("config not loaded")
			return
		}

		container := &ServiceContainer{Logger: logger}

		container.DB = db.DB
		if container.DB == nil {
			initErr = fmt.Errorf("database not initialized")
			return
		}

		container.GasTankRepo = repository.NewGormGasTankRepository(container.DB)
		container.SubmissionRepo = repository.NewGormSubmissionRepository(container.DB)

		container.ChainClient = chain.NewClient(logger)
		container.RelayClient = relay.NewProviderClient(chain.RelayEndpoint, logger)

		publisher, err := events.NewPublisher(config.AppConfig.NATS, logger)
		if err != nil {
			initErr = fmt.Errorf("initialize event publisher: %w", err)
			return
		}
		container.EventPublisher = publisher

		container.Planner = plan.NewPlanner(container.ChainClient, chain.DelegateAddress)

		container.ExecutionService = services.NewExecutionService(
			container.Planner,
			container.ChainClient,
			container.RelayClient,
			chain.DelegateAddress,
			container.EventPublisher,
			logger,
			services.ExecutionOptions{
				PollInterval: time.Duration(config.AppConfig.Relay.PollIntervalSeconds) * time.Second,
				WaitTimeout:  time.Duration(config.AppConfig.Relay.WaitTimeoutSeconds) * time.Second,
				GasFallback:  config.AppConfig.Relay.GasFallback,
			},
		)

		container.GasTankService = services.NewGasTankService(
			container.GasTankRepo,
			container.SubmissionRepo,
			container.ChainClient,
			container.RelayClient,
			container.EventPublisher,
			logger,
		)

		Container = container
		logger.Info("✅ Service container initialized")
	})

	if initErr != nil {
		return nil, initErr
	}
	return Container, nil
}

// Shutdown releases long-lived connections.
func (c *ServiceContainer) Shutdown() {
	c.EventPublisher.Close()

	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
