package bootstrap

import (
	"github.com/eleven-am/voice-stream/internal/gateway"
	"github.com/eleven-am/voice-stream/internal/health"
	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

const version = "1.0.0"

func ProvideHealthHandler(store *gateway.Store) *health.Handler {
	return health.NewHandler(map[string]health.Pinger{"redis": store}, version)
}

func RegisterHealthRoutes(e *echo.Echo, h *health.Handler) {
	e.Use(h.Middleware())
	h.RegisterRoutes(e)
}

var HealthModule = fx.Options(
	fx.Provide(ProvideHealthHandler),
	fx.Invoke(RegisterHealthRoutes),
)
