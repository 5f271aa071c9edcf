// Package remote implements the upstream registry client behind the proxy
// core. Status and transport failures are logged and reported as "no fresh
// data" so the core can fall back to the cached copy; only request
// construction problems surface as hard errors.
package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/paulodamaso/artipie-npm-adapter/internal/npmproxy"
)

const defaultAssetContentType = "application/octet-stream"

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Client 是 npmproxy.Remote 的 HTTP 实现，持有独立的 transport，
// Close 时统一释放空闲连接。
type Client struct {
	upstream  *url.URL
	http      *http.Client
	transport *http.Transport
	logger    *logrus.Logger
}

// New 构造指向 upstream registry 的客户端。timeout <= 0 时使用 30s。
func New(upstream string, timeout time.Duration, logger *logrus.Logger) (*Client, error) {
	parsed, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid upstream url: %s", upstream)
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := defaultTransport.Clone()
	return &Client{
		upstream: parsed,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		transport: transport,
		logger:    logger,
	}, nil
}

// LoadPackage 回源获取 metadata 文档。上游没有该包、返回非 200 或网络不可达
// 都映射为 ErrNotFound——对核心而言这些统一表示“拿不到新数据”，由缓存兜底。
func (c *Client) LoadPackage(ctx context.Context, name string) (*npmproxy.Package, error) {
	req, err := c.buildRequest(ctx, name)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logUpstreamMiss("load_package", name, 0, err)
		return nil, npmproxy.ErrNotFound
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logUpstreamMiss("load_package", name, resp.StatusCode, nil)
		return nil, npmproxy.ErrNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logUpstreamMiss("load_package", name, resp.StatusCode, err)
		return nil, npmproxy.ErrNotFound
	}

	return npmproxy.NewPackage(name, string(body), lastModified(resp.Header)), nil
}

// LoadAsset 回源获取 tarball。携带缓存副本的 Last-Modified 做条件请求，
// 304 与各类失败一样映射为 ErrNotFound（没有更新的内容可用）。
// 返回的 Asset 持有尚未消费的响应 body，由存储层负责落盘并关闭。
func (c *Client) LoadAsset(ctx context.Context, path string, cached *npmproxy.Asset) (*npmproxy.Asset, error) {
	req, err := c.buildRequest(ctx, path)
	if err != nil {
		return nil, err
	}
	if cached != nil && cached.LastModified != "" {
		req.Header.Set("If-Modified-Since", cached.LastModified)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logUpstreamMiss("load_asset", path, 0, err)
		return nil, npmproxy.ErrNotFound
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.logUpstreamMiss("load_asset", path, resp.StatusCode, nil)
		return nil, npmproxy.ErrNotFound
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultAssetContentType
	}

	return npmproxy.NewAsset(path, resp.Body, lastModified(resp.Header), contentType), nil
}

// Close 释放 transport 持有的空闲连接。幂等，由 Proxy 保证只调用一次。
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *Client) buildRequest(ctx context.Context, rel string) (*http.Request, error) {
	target := c.upstream.JoinPath(strings.Split(strings.Trim(rel, "/"), "/")...)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (c *Client) logUpstreamMiss(action, key string, status int, err error) {
	fields := logrus.Fields{
		"action":   action,
		"key":      key,
		"upstream": c.upstream.String(),
	}
	if status > 0 {
		fields["upstream_status"] = status
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	c.logger.WithFields(fields).Warn("upstream_unavailable")
}

// lastModified 原样透传上游的 Last-Modified，缺失时以当前时间填充，
// 保证每条记录都带可做条件请求的 freshness 标记。
func lastModified(header http.Header) string {
	if last := header.Get("Last-Modified"); last != "" {
		return last
	}
	return time.Now().UTC().Format(http.TimeFormat)
}
