package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/paulodamaso/artipie-npm-adapter/internal/npmproxy"
)

// MirrorService 抽象代理核心暴露给 HTTP 层的三个操作，方便测试注入假实现。
type MirrorService interface {
	GetPackage(ctx context.Context, name string) (*npmproxy.Package, error)
	GetAsset(ctx context.Context, path string) (*npmproxy.Asset, error)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger     *logrus.Logger
	Mirror     MirrorService
	ListenPort int
}

const contextKeyRequestID = "_npmmirror_request_id"

// NewApp builds a Fiber application with request-ID middleware and the npm
// registry route layout.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Mirror == nil {
		return nil, errors.New("mirror service is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	handler := newMirrorHandler(opts.Mirror, opts.Logger)
	app.Get("/-/ping", handlePing)
	app.Get("/*", handler.Handle)

	return app, nil
}

// requestIDMiddleware 为每个请求生成 ID，并回写 X-Request-ID 头。
func requestIDMiddleware() fiber.Handler {
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

func handlePing(c fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{})
}
