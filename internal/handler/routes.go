package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ragscale/api/internal/config"
	"github.com/ragscale/api/internal/middleware"
	"github.com/ragscale/api/pkg/response"
)

// Routes is everything mounted on the HTTP app. Nil handlers are skipped.
type Routes struct {
	Auth        fiber.Handler
	RateLimiter *middleware.RateLimiter
	Limits      config.RateLimitConfig

	Verify *AuthHandler
	Health *HealthHandler
	Ingest *IngestHandler
	Chat   *ChatHandler
	Admin  *AdminHandler
}

// NewApp creates the fiber app with the JSON error handler
func NewApp(bodyLimit int) *fiber.App {
	return fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler,
		BodyLimit:    bodyLimit,
	})
}

func (r Routes) Mount(app *fiber.App) {
	app.Get("/", Root)
	if r.Health != nil {
		app.Get("/health", r.Health.Health)
	}
	if r.Verify != nil {
		// forward-auth target for the gateway
		app.Get("/auth/verify", r.Verify.Verify)
	}

	if r.Ingest != nil {
		ingest := app.Group("/ingest", r.Auth)
		ingest.Post("/upload", r.RateLimiter.UploadLimit(r.Limits.UploadPerHour), r.Ingest.Upload)
		ingest.Get("/status/:batchId", r.Ingest.Status)

		app.Get("/ws/ingest/:batchId", r.Auth, r.Ingest.StatusUpgrade, r.Ingest.StatusSocket())
	}

	api := app.Group("/api", r.Auth)

	if r.Chat != nil {
		chat := api.Group("/chat", r.RateLimiter.ChatLimit(r.Limits.ChatPerMin))
		chat.Post("/text", r.Chat.Text)
		chat.Post("/voice", r.Chat.Voice)
	}

	if r.Admin != nil {
		admin := api.Group("/admin/queues")
		admin.Get("/:lane", r.Admin.Stats)
		admin.Get("/:lane/dead", r.Admin.Dead)
	}
}

func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}

	switch code {
	case fiber.StatusNotFound:
		return response.NotFound(c, message)
	case fiber.StatusRequestEntityTooLarge:
		return response.TooLarge(c, message, nil)
	}
	return response.Error(c, code, response.CodeServiceError, message, nil)
}
