package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/i474232898/weather-sync/internal/weather"
)

// Services are the application services behind the API.
type Services struct {
	Locations   *weather.LocationService
	Preferences *weather.PreferencesService
	Query       *weather.QueryService
	Sync        *weather.SyncService
}

// Options tune the middleware stack.
type Options struct {
	// RateLimitMax is the number of requests allowed per client IP per minute.
	// Zero disables rate limiting.
	RateLimitMax int
	CORSOrigins  string
	// AccessLog enables the request logger middleware.
	AccessLog bool
	Logger    *zap.Logger
}

// NewApp builds the Fiber app with middleware, health, metrics and API routes.
func NewApp(svc Services, opts Options) *fiber.App {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName:               "weather-sync",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		ErrorHandler:          ErrorHandler(log.Named("http")),
	})

	// Global middleware
	if opts.AccessLog {
		app.Use(logger.New())
	}
	app.Use(recover.New())
	if opts.CORSOrigins != "" {
		app.Use(cors.New(cors.Config{
			AllowOrigins: opts.CORSOrigins,
			AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
			AllowHeaders: "Origin,Content-Type,Accept",
		}))
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-sync",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api/v1")
	if opts.RateLimitMax > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimitMax,
			Expiration: time.Minute,
			LimitReached: func(c *fiber.Ctx) error {
				return fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded; retry later")
			},
		}))
	}
	RegisterRoutes(api, svc)

	return app
}

// ErrorHandler renders every error as {"error": true, "message", "statusCode"}.
func ErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, message := classify(err)
		if code >= fiber.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Int("status", code),
				zap.Error(err),
			)
		}
		return c.Status(code).JSON(fiber.Map{
			"error":      true,
			"message":    message,
			"statusCode": code,
		})
	}
}

func classify(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fe.Message
	}

	var ext *weather.ExternalError
	switch {
	case errors.Is(err, weather.ErrValidation):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, weather.ErrNotFound):
		return fiber.StatusNotFound, err.Error()
	case errors.Is(err, weather.ErrConflict), errors.Is(err, weather.ErrConcurrency):
		return fiber.StatusConflict, err.Error()
	case errors.As(err, &ext):
		code := ext.StatusCode
		if code < 400 {
			code = fiber.StatusBadGateway
		}
		return code, ext.Message
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "request timed out"
	default:
		return fiber.StatusInternalServerError, "an unexpected error occurred"
	}
}
