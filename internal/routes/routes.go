package routes

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/okapi-bank/okapi_bank/internal/config"
	"github.com/okapi-bank/okapi_bank/internal/ledger"
	"github.com/okapi-bank/okapi_bank/internal/middleware"
	"github.com/okapi-bank/okapi_bank/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Outside dev the durable backends are mandatory even though main also checks.
	if !isDev(d.Cfg.Env) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.Env)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.Env)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	app.Use(middleware.Audit(d.Logger))

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewMemoryStore()
	}

	engine := ledger.NewEngine(store, ledger.Params{
		DefaultBalance: d.Cfg.DefaultBalance,
		FeeRate:        d.Cfg.FeeRate,
	}, notification.NewLoggerNotifier(d.Logger))
	handler := ledger.NewHandler(engine)

	api := app.Group("/api/v1")
	api.Post("/users", handler.RegisterUser)
	api.Get("/users", handler.ListUsers)
	api.Post("/accounts", handler.CreateAccount)
	api.Post("/accounts/:accountId/close", handler.CloseAccount)
	api.Post("/accounts/:accountId/deposit", handler.Deposit)
	api.Post("/accounts/:accountId/withdraw", handler.Withdraw)
	api.Post("/transfers", handler.Transfer)
	api.Get("/transactions", handler.ListTransactions)

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
