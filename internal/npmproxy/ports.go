package npmproxy

import (
	"context"
	"errors"
)

// ErrNotFound 表示存储或上游没有对应条目。它是正常的空结果，
// 与 I/O、序列化等真实错误严格区分，调用方通过 errors.Is 分支。
var ErrNotFound = errors.New("entry not found")

// Storage 是持久化缓存需要满足的能力。metadata 与 asset 处于相互独立的
// 命名空间，Save* 为幂等 upsert，返回即表示后续 Get* 可以观察到写入。
// 缺失以 ErrNotFound 表达，实现不得用它承载其他失败。
type Storage interface {
	// GetPackage 返回缓存的 metadata 文档，不存在时返回 ErrNotFound。
	GetPackage(ctx context.Context, name string) (*Package, error)

	// SavePackage 持久化一份完整的 metadata 记录。
	SavePackage(ctx context.Context, pkg *Package) error

	// GetAsset 返回缓存的 tarball，Content 由实现重新供给（可回放的磁盘流）。
	GetAsset(ctx context.Context, path string) (*Asset, error)

	// SaveAsset 持久化 tarball 正文与元信息，会完整消费 asset.Content。
	SaveAsset(ctx context.Context, asset *Asset) error
}

// Remote 是上游 registry 客户端需要满足的能力。"空"（ErrNotFound）统一表示
// 当前拿不到新数据——包不存在或上游不可用，本层不做区分。
type Remote interface {
	// LoadPackage 回源获取 metadata 文档。
	LoadPackage(ctx context.Context, name string) (*Package, error)

	// LoadAsset 回源获取 tarball。cached 传入当前缓存副本（可为 nil），
	// 便于实现做 If-Modified-Since 之类的条件请求。
	LoadAsset(ctx context.Context, path string, cached *Asset) (*Asset, error)

	// Close 释放客户端持有的连接等资源。调用方保证请求已排空。
	Close() error
}
