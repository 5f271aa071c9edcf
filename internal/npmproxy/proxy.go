package npmproxy

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// Proxy orchestrate “回源 → 写缓存 → 读回” 的全流程。它独占一个 Remote
// 实例（Close 时释放），共享一个外部持有的 Storage。每个请求都是无状态的
// 线性序列，端口出错即中止并原样上抛，不做重试，也不做并发去重。
type Proxy struct {
	storage Storage
	remote  Remote
	logger  *logrus.Logger

	closeOnce sync.Once
	closeErr  error
}

// New 构造 Proxy。storage/remote 由启动层注入，logger 不能为空。
func New(storage Storage, remote Remote, logger *logrus.Logger) *Proxy {
	return &Proxy{
		storage: storage,
		remote:  remote,
		logger:  logger,
	}
}

// GetPackage 执行 metadata 的 freshness-over-cache 策略：永远先回源，
// 拿到就写穿缓存并直接返回上游副本；上游为空时才回退到最后一份缓存。
func (p *Proxy) GetPackage(ctx context.Context, name string) (*Package, error) {
	pkg, err := p.remote.LoadPackage(ctx, name)
	switch {
	case err == nil:
		if saveErr := p.storage.SavePackage(ctx, pkg); saveErr != nil {
			return nil, saveErr
		}
		p.logger.WithFields(logrus.Fields{
			"action":  "get_package",
			"package": name,
			"source":  "remote",
		}).Debug("package_refreshed")
		return pkg, nil
	case errors.Is(err, ErrNotFound):
		cached, cacheErr := p.storage.GetPackage(ctx, name)
		if cacheErr != nil {
			return nil, cacheErr
		}
		p.logger.WithFields(logrus.Fields{
			"action":  "get_package",
			"package": name,
			"source":  "cache",
		}).Debug("package_served_from_cache")
		return cached, nil
	default:
		return nil, err
	}
}

// GetAsset 执行 tarball 的 cache-first 策略：命中直接返回；miss 时回源，
// 写入存储后再从存储读回一次，保证返回的流由磁盘而不是网络 socket 支撑，
// 同时让 “刚写入” 与 “早已缓存” 走完全相同的读路径。二次读回是有意设计，
// 不要用直接返回回源结果来省掉它。
func (p *Proxy) GetAsset(ctx context.Context, path string) (*Asset, error) {
	cached, err := p.storage.GetAsset(ctx, path)
	if err == nil {
		p.logger.WithFields(logrus.Fields{
			"action": "get_asset",
			"path":   path,
			"source": "cache",
		}).Debug("asset_cache_hit")
		return cached, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	loaded, err := p.remote.LoadAsset(ctx, path, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := p.storage.SaveAsset(ctx, loaded); err != nil {
		return nil, err
	}
	stored, err := p.storage.GetAsset(ctx, path)
	if err != nil {
		return nil, err
	}
	p.logger.WithFields(logrus.Fields{
		"action": "get_asset",
		"path":   path,
		"source": "remote",
	}).Debug("asset_fetched_and_stored")
	return stored, nil
}

// Close 释放 Remote 资源，多次调用只生效一次，后续调用返回首次的结果。
// Storage 由外部持有，这里不关闭。
func (p *Proxy) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.remote.Close()
	})
	return p.closeErr
}
