package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/cardledger/internal/cards"
	"github.com/congo-pay/cardledger/internal/config"
	"github.com/congo-pay/cardledger/internal/ledger"
	"github.com/congo-pay/cardledger/internal/middleware"
	"github.com/congo-pay/cardledger/internal/notification"
)

// Deps aggregates shared dependencies required to wire routes. Store, when
// set, replaces the store that would otherwise be derived from DB.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	NATS   *nats.Conn
	Store  ledger.Store
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	store, err := ledgerStore(d)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.RequestLog(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	var notifier notification.Notifier = notification.NewLoggerNotifier(d.Logger)
	if d.NATS != nil {
		notifier = notification.NewNATSNotifier(d.NATS, d.Cfg.NATSSubject)
	}

	cardSvc := cards.NewService(store, notifier, d.Logger, cards.Options{
		Timeout:    d.Cfg.OpTimeout,
		MaxRetries: d.Cfg.MaxRetries,
		RetryBase:  d.Cfg.RetryBase,
	})
	RegisterCardRoutes(app, cards.NewHandler(cardSvc))

	return nil
}

func ledgerStore(d Deps) (ledger.Store, error) {
	switch {
	case d.Store != nil:
		return d.Store, nil
	case d.DB != nil:
		return ledger.NewPostgresStore(d.DB, d.Cfg.LockTimeout), nil
	case d.Cfg.IsDev():
		d.Logger.Warn("no database configured, using in-memory ledger store")
		return ledger.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}
}

// ErrorHandler renders every returned error as a JSON body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := http.StatusInternalServerError
	message := "internal error"
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}
	return c.Status(code).JSON(fiber.Map{
		"error":      message,
		"request_id": middleware.GetRequestID(c),
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}
