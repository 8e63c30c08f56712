package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/processor"
)

// Runner triggers runs and reports the latest outcome.
type Runner interface {
	Run(ctx context.Context, inv processor.Invocation) (models.RunSummary, error)
	Latest() (models.RunSummary, bool)
}

// NewApp builds the Fiber app with shared error handling.
func NewApp(name string) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, zoneID string, runner Runner, metrics http.Handler, runTimeout time.Duration) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"zoneId": zoneID,
		})
	})

	if metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(metrics))
	}

	app.Get("/runs/latest", func(c *fiber.Ctx) error {
		s, ok := runner.Latest()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no completed run yet")
		}
		return c.JSON(s)
	})

	// manual trigger, optionally idempotent on ingestId
	app.Post("/runs", func(c *fiber.Ctx) error {
		inv := processor.Invocation{IngestID: c.Query("ingestId")}
		if raw := c.Query("anchor"); raw != "" {
			anchor, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "anchor must be RFC3339")
			}
			inv.Anchor = &anchor
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), runTimeout)
		defer cancel()

		s, err := runner.Run(ctx, inv)
		if errors.Is(err, processor.ErrNoData) {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(s)
	})
}
