package server

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/paulodamaso/artipie-npm-adapter/internal/logging"
	"github.com/paulodamaso/artipie-npm-adapter/internal/npmproxy"
)

// mirrorHandler 将 npm registry 的 URL 约定翻译成对核心的调用：
// 含 "/-/" 的路径是 tarball，其余 GET 一律视为 metadata 文档。
type mirrorHandler struct {
	mirror MirrorService
	logger *logrus.Logger
}

func newMirrorHandler(mirror MirrorService, logger *logrus.Logger) *mirrorHandler {
	return &mirrorHandler{
		mirror: mirror,
		logger: logger,
	}
}

// Handle 分派 metadata/asset 请求。空结果映射为 404，端口错误映射为 502，
// 与核心 “空不是错误” 的约定一一对应。
func (h *mirrorHandler) Handle(c fiber.Ctx) error {
	started := time.Now()
	clean := normalizeRequestPath(string(c.Request().URI().Path()))
	if clean == "/" {
		return h.writeNotFound(c)
	}

	if strings.Contains(clean, "/-/") {
		return h.handleAsset(c, strings.TrimPrefix(clean, "/"), started)
	}
	return h.handlePackage(c, strings.TrimPrefix(clean, "/"), started)
}

func (h *mirrorHandler) handlePackage(c fiber.Ctx, name string, started time.Time) error {
	pkg, err := h.mirror.GetPackage(requestContext(c), name)
	if err != nil {
		if errors.Is(err, npmproxy.ErrNotFound) {
			h.logResult(c, "package", name, fiber.StatusNotFound, started, nil)
			return h.writeNotFound(c)
		}
		h.logResult(c, "package", name, fiber.StatusBadGateway, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "mirror_failed")
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSONCharsetUTF8)
	if pkg.LastModified != "" {
		c.Set(fiber.HeaderLastModified, pkg.LastModified)
	}
	h.logResult(c, "package", name, fiber.StatusOK, started, nil)
	return c.Status(fiber.StatusOK).SendString(pkg.Metadata)
}

func (h *mirrorHandler) handleAsset(c fiber.Ctx, assetPath string, started time.Time) error {
	asset, err := h.mirror.GetAsset(requestContext(c), assetPath)
	if err != nil {
		if errors.Is(err, npmproxy.ErrNotFound) {
			h.logResult(c, "asset", assetPath, fiber.StatusNotFound, started, nil)
			return h.writeNotFound(c)
		}
		h.logResult(c, "asset", assetPath, fiber.StatusBadGateway, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "mirror_failed")
	}

	if asset.ContentType != "" {
		c.Set(fiber.HeaderContentType, asset.ContentType)
	}
	if asset.LastModified != "" {
		c.Set(fiber.HeaderLastModified, asset.LastModified)
	}
	h.logResult(c, "asset", assetPath, fiber.StatusOK, started, nil)
	c.Status(fiber.StatusOK)
	// fasthttp 会在响应发送完毕后关闭实现了 io.Closer 的流。
	return c.SendStream(asset.Content)
}

func (h *mirrorHandler) writeNotFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
}

func (h *mirrorHandler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *mirrorHandler) logResult(c fiber.Ctx, kind, key string, status int, started time.Time, err error) {
	fields := logging.RequestFields(kind, key, RequestID(c), status == fiber.StatusOK)
	fields["action"] = "mirror"
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("mirror_failed")
		return
	}
	h.logger.WithFields(fields).Info("mirror_complete")
}

func requestContext(c fiber.Ctx) context.Context {
	if ctx := c.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	return path.Clean("/" + raw)
}
