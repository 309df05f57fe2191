package gateway

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

func ProvideStore(redisClient *redis.Client) *Store {
	return NewStore(redisClient)
}

func ProvideBridge(redisClient *redis.Client, logger *slog.Logger) *Bridge {
	return NewBridge(redisClient, logger)
}

func ProvideServer(cfg Config, store *Store, bridge *Bridge, logger *slog.Logger) *Server {
	return NewServer(cfg, store, bridge, logger)
}

func RegisterRoutes(e *echo.Echo, s *Server) {
	s.RegisterRoutes(e)
}

var Module = fx.Options(
	fx.Provide(
		ProvideStore,
		ProvideBridge,
		ProvideServer,
	),
	fx.Invoke(RegisterRoutes),
)
