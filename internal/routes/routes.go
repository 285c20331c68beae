package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/pet-saude/authsvc/internal/config"
	"github.com/pet-saude/authsvc/internal/identity"
	"github.com/pet-saude/authsvc/internal/logging"
	"github.com/pet-saude/authsvc/internal/middleware"
	"github.com/pet-saude/authsvc/internal/notification"
	"github.com/pet-saude/authsvc/internal/observability"
)

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// are nil unless configured.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Logger  *slog.Logger
	Metrics *observability.Metrics
	// Notifier overrides the transport chosen from Cfg.SMTP.
	Notifier notification.Notifier
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	repo, err := newRepository(d)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.Cfg.AllowOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Idempotency-Key, X-Request-ID",
	}))
	app.Use(middleware.Audit(d.Logger))
	metricsOn := d.Cfg.MetricsEnabled && d.Metrics != nil
	if metricsOn {
		app.Use(middleware.Metrics(d.Metrics))
	}
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	if metricsOn {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))
	}

	RegisterIdentityRoutes(app, identity.NewHandler(newIdentityService(repo, d), d.Cfg.Demo()))

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(http.StatusNotFound).JSON(identity.ErrorResponse{
			Error:   "not_found",
			Message: "Route not found",
		})
	})

	d.Logger.Info("routes configured",
		slog.String("store_backend", d.Cfg.StoreBackend),
		slog.Bool("demo_mode", d.Cfg.Demo()),
		slog.Bool("idempotency", d.Cache != nil),
		slog.Bool("metrics", metricsOn),
	)
	return nil
}

func newRepository(d Deps) (identity.Repository, error) {
	switch d.Cfg.StoreBackend {
	case config.BackendPostgres:
		if d.DB == nil {
			return nil, oops.Errorf("database is required when STORE_BACKEND=%s", d.Cfg.StoreBackend)
		}
		return identity.NewPostgresRepository(d.DB), nil
	case config.BackendRedis:
		if d.Cache == nil {
			return nil, oops.Errorf("redis is required when STORE_BACKEND=%s", d.Cfg.StoreBackend)
		}
		return identity.NewRedisRepository(d.Cache), nil
	case config.BackendMemory, "":
		return identity.NewMemoryRepository(), nil
	default:
		return nil, oops.Errorf("unknown store backend %q", d.Cfg.StoreBackend)
	}
}

func newIdentityService(repo identity.Repository, d Deps) *identity.Service {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notification.NewTransport(d.Cfg.SMTP, d.Logger, d.Cfg.Demo())
	}

	opts := []identity.Option{
		identity.WithHasher(identity.NewBcryptHasher(d.Cfg.BcryptCost)),
		identity.WithMailTimeout(d.Cfg.MailTimeout),
		identity.WithLogger(d.Logger),
	}
	if d.Metrics != nil {
		notifier = notification.NewInstrumented(notifier, d.Metrics)
		opts = append(opts, identity.WithEvents(d.Metrics))
	}

	sender := notification.NewVerificationMailer(notifier, d.Logger)
	return identity.NewService(repo, sender, opts...)
}

// ErrorHandler renders errors that escape handlers. Client errors raised by
// Fiber keep their status; everything else is logged and reported as an
// opaque server_error.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) && fe.Code < http.StatusInternalServerError {
			code := "bad_request"
			if fe.Code == http.StatusNotFound {
				code = "not_found"
			}
			return c.Status(fe.Code).JSON(identity.ErrorResponse{Error: code, Message: fe.Message})
		}

		logging.LogError(logger, "unhandled request error", err,
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("request_id", middleware.RequestIDFrom(c)),
		)
		return c.Status(http.StatusInternalServerError).JSON(identity.ErrorResponse{
			Error:   identity.CodeServerError,
			Message: "Internal server error",
		})
	}
}
