package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/paulodamaso/artipie-npm-adapter/internal/npmproxy"
)

const lastModified = "Tue, 24 Mar 2020 12:15:16 GMT"

func TestServesPackageMetadata(t *testing.T) {
	mirror := &fakeMirror{
		pkg: npmproxy.NewPackage("asdas", `{"name":"asdas"}`, lastModified),
	}
	app := newTestApp(t, mirror)

	resp, err := app.Test(httptest.NewRequest("GET", "/asdas", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if mirror.packageName != "asdas" {
		t.Fatalf("expected package lookup for asdas, got %s", mirror.packageName)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"name":"asdas"}` {
		t.Fatalf("unexpected body: %s", string(body))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON content type, got %s", ct)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != lastModified {
		t.Fatalf("expected Last-Modified passthrough, got %s", lm)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestServesScopedPackageMetadata(t *testing.T) {
	mirror := &fakeMirror{
		pkg: npmproxy.NewPackage("@scope/asdas", "{}", lastModified),
	}
	app := newTestApp(t, mirror)

	resp, err := app.Test(httptest.NewRequest("GET", "/@scope/asdas", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if mirror.packageName != "@scope/asdas" {
		t.Fatalf("expected scoped name, got %s", mirror.packageName)
	}
}

func TestPackageNotFound(t *testing.T) {
	app := newTestApp(t, &fakeMirror{})

	resp, err := app.Test(httptest.NewRequest("GET", "/missing", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"not_found"`)) {
		t.Fatalf("expected not_found error body, got %s", string(body))
	}
}

func TestPackageFailureMapsToBadGateway(t *testing.T) {
	app := newTestApp(t, &fakeMirror{err: errors.New("disk failure")})

	resp, err := app.Test(httptest.NewRequest("GET", "/asdas", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"mirror_failed"`)) {
		t.Fatalf("expected mirror_failed error body, got %s", string(body))
	}
}

func TestServesTarballAsset(t *testing.T) {
	mirror := &fakeMirror{
		asset: npmproxy.NewAsset(
			"asdas/-/asdas-1.0.0.tgz",
			io.NopCloser(strings.NewReader("foobar")),
			lastModified,
			"application/octet-stream",
		),
	}
	app := newTestApp(t, mirror)

	resp, err := app.Test(httptest.NewRequest("GET", "/asdas/-/asdas-1.0.0.tgz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if mirror.assetPath != "asdas/-/asdas-1.0.0.tgz" {
		t.Fatalf("expected asset lookup, got %q (package %q)", mirror.assetPath, mirror.packageName)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "foobar" {
		t.Fatalf("unexpected tarball body: %s", string(body))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("expected octet-stream content type, got %s", ct)
	}
	if lm := resp.Header.Get("Last-Modified"); lm != lastModified {
		t.Fatalf("expected Last-Modified passthrough, got %s", lm)
	}
}

func TestAssetNotFound(t *testing.T) {
	app := newTestApp(t, &fakeMirror{})

	resp, err := app.Test(httptest.NewRequest("GET", "/asdas/-/asdas-9.9.9.tgz", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRootPathIsNotAPackage(t *testing.T) {
	mirror := &fakeMirror{}
	app := newTestApp(t, mirror)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 for root path, got %d", resp.StatusCode)
	}
	if mirror.packageName != "" || mirror.assetPath != "" {
		t.Fatalf("root path must not reach the core")
	}
}

func TestPingBypassesMirror(t *testing.T) {
	mirror := &fakeMirror{}
	app := newTestApp(t, mirror)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200 for ping, got %d", resp.StatusCode)
	}
	if mirror.packageName != "" || mirror.assetPath != "" {
		t.Fatalf("ping must not reach the core")
	}
}

func newTestApp(t *testing.T, mirror MirrorService) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Mirror:     mirror,
		ListenPort: 8080,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}

type fakeMirror struct {
	pkg   *npmproxy.Package
	asset *npmproxy.Asset
	err   error

	packageName string
	assetPath   string
}

func (f *fakeMirror) GetPackage(ctx context.Context, name string) (*npmproxy.Package, error) {
	f.packageName = name
	if f.err != nil {
		return nil, f.err
	}
	if f.pkg == nil {
		return nil, npmproxy.ErrNotFound
	}
	return f.pkg, nil
}

func (f *fakeMirror) GetAsset(ctx context.Context, path string) (*npmproxy.Asset, error) {
	f.assetPath = path
	if f.err != nil {
		return nil, f.err
	}
	if f.asset == nil {
		return nil, npmproxy.ErrNotFound
	}
	return f.asset, nil
}
