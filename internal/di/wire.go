//go:build wireinject
// +build wireinject

package di

import (
	"ChargeFit/pkg/config"
	"ChargeFit/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideCache,

		// Repositories
		ProvideResultStore,
		ProvideResultPublisher,

		// Fitting and delivery
		ProvideFitter,
		ProvideHub,
		ProvideFitService,

		// Transports
		ProvideRateLimiter,
		ProvideFitHandler,
		ProvideKafkaConsumer,
		ProvideHitsHandler,

		ProvideApp,
	)
	return &server.App{}, nil
}
