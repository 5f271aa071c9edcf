package npmproxy

import "io"

// Package 表示一份缓存或回源获取到的 npm metadata 文档。文档内容对本层完全
// 不透明（不解析、不合并），LastModified 原样透传给下游做条件请求。
// 构造后不可变：任何更新都通过整体替换记录完成。
type Package struct {
	Name         string
	Metadata     string
	LastModified string
}

// NewPackage 构造不可变的 Package 记录。
func NewPackage(name, metadata, lastModified string) *Package {
	return &Package{
		Name:         name,
		Metadata:     metadata,
		LastModified: lastModified,
	}
}

// Asset 表示一个 tarball 制品。Content 是一次性字节流（网络 body 或磁盘文件），
// 读取后不可回放，需要由存储层重新供给；因此 miss-then-fetch 路径最终返回的
// 必须是存储层读回的实例，而不是回源的临时流。
type Asset struct {
	Path         string
	Content      io.ReadCloser
	LastModified string
	ContentType  string
}

// NewAsset 构造不可变的 Asset 记录。
func NewAsset(path string, content io.ReadCloser, lastModified, contentType string) *Asset {
	return &Asset{
		Path:         path,
		Content:      content,
		LastModified: lastModified,
		ContentType:  contentType,
	}
}
