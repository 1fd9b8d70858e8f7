//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"QuantPipe/pkg/config"
	"QuantPipe/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(ctx context.Context, cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideStore,
		ProvideRedisCache,
		ProvideCache,
		ProvideLocker,
		ProvideKafkaProducer,
		ProvidePublisher,
		ProvideClickHouseClient,
		ProvideMirror,
		ProvideMarketData,

		// Stages and the read side
		ProvideIngestor,
		ProvideFeatureBuilder,
		ProvideQualityChecker,
		ProvideSignalGenerator,
		ProvidePerformanceEvaluator,
		ProvideQuery,

		// Orchestration
		ProvideRunner,
		ProvideQueue,
		ProvideDispatcher,
		ProvideScheduler,
		ProvideHandler,
		ProvideAlertConsumer,

		ProvideApp,
	)
	return nil, nil, nil
}
