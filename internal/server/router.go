package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkg-restore/internal/restore"
)

// StatusSource provides the per-identity view of a run; *restore.StatusTable
// satisfies it.
type StatusSource interface {
	Snapshot() map[string]restore.Status
	Counts() map[string]int
}

// AppOptions controls what the status application reports.
type AppOptions struct {
	Logger  *logrus.Logger
	Status  StatusSource
	Mode    string
	Started time.Time
}

const contextKeyRequestID = "_pkgrestore_request_id"

// NewApp builds a Fiber application serving /-/healthz and /-/status.
// Unmatched paths render a JSON 404, so callers may register more routes afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Status == nil {
		return nil, errors.New("status source is required")
	}
	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"mode":       opts.Mode,
			"started_at": opts.Started.UTC().Format(time.RFC3339),
			"uptime_ms":  time.Since(opts.Started).Milliseconds(),
			"counts":     opts.Status.Counts(),
			"packages":   opts.Status.Snapshot(),
		})
	})

	return app, nil
}

// errorHandler 把未匹配路由与处理错误统一渲染为 JSON。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code == fiber.StatusNotFound {
			return c.Status(code).JSON(fiber.Map{"error": "not_found"})
		}
		logger.WithFields(logrus.Fields{
			"action":     "status_error",
			"path":       c.Path(),
			"request_id": RequestID(c),
		}).Error(err.Error())
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}

// requestContextMiddleware 负责生成请求 ID 并写回响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
