//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"FxGuard/pkg/config"
	"FxGuard/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideSQLiteCache,
	ProvideCacheStore,
	ProvideKafkaProducer,
	ProvideKafkaConsumer,
	ProvideValidationStore,
)

var domainSet = wire.NewSet(
	ProvideBounds,
	ProvidePairs,
	ProvideFinnhubStream,
	ProvideRegistry,
	ProvidePriceCache,
	ProvideValidator,
	ProvideEnforcer,
	ProvideKafkaHandlers,
	ProvideScheduler,
)

// InitializeApp wires up all dependencies and returns the application.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		domainSet,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
