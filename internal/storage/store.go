package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"github.com/paulodamaso/artipie-npm-adapter/internal/npmproxy"
)

const (
	metadataDir  = "metadata"
	assetsDir    = "assets"
	metadataFile = "package.json"
	metaSuffix   = ".meta"
)

// entryMeta 是落盘的 sidecar 结构，保存无法由文件系统表达的记录属性。
type entryMeta struct {
	LastModified string `json:"last_modified"`
	ContentType  string `json:"content_type,omitempty"`
}

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &Store{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// Store 通过 entryLock 避免同一条目并发写入，同时复用 basePath。
// 并发读与并发写不同条目之间不加任何协调。
type Store struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// GetPackage 读取缓存的 metadata 文档与其 sidecar，不存在时返回 ErrNotFound。
func (s *Store) GetPackage(ctx context.Context, name string) (*npmproxy.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, errors.New("package name required")
	}

	bodyPath, err := s.entryPath(metadataDir, path.Join(name, metadataFile))
	if err != nil {
		return nil, err
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, npmproxy.ErrNotFound
		}
		return nil, err
	}

	meta, err := s.readMeta(bodyPath)
	if err != nil {
		return nil, err
	}
	if meta.LastModified == "" {
		meta.LastModified = s.fileModTime(bodyPath)
	}

	return npmproxy.NewPackage(name, string(body), meta.LastModified), nil
}

// SavePackage 原子落盘 metadata 正文与 sidecar，upsert 语义，可重复调用。
func (s *Store) SavePackage(ctx context.Context, pkg *npmproxy.Package) error {
	if pkg == nil || pkg.Name == "" {
		return errors.New("package name required")
	}

	unlock := s.lockEntry(metadataDir + "::" + pkg.Name)
	defer unlock()

	bodyPath, err := s.entryPath(metadataDir, path.Join(pkg.Name, metadataFile))
	if err != nil {
		return err
	}

	if err := s.writeFile(ctx, bodyPath, strings.NewReader(pkg.Metadata)); err != nil {
		return err
	}
	return s.writeMeta(ctx, bodyPath, entryMeta{LastModified: pkg.LastModified})
}

// GetAsset 返回缓存 tarball，Content 是重新打开的磁盘文件，可安全流式输出。
// sidecar 缺失 content type 时用 mimetype 嗅探文件内容兜底。
func (s *Store) GetAsset(ctx context.Context, assetPath string) (*npmproxy.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bodyPath, err := s.entryPath(assetsDir, assetPath)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, npmproxy.ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, npmproxy.ErrNotFound
	}

	meta, err := s.readMeta(bodyPath)
	if err != nil {
		return nil, err
	}
	if meta.LastModified == "" {
		meta.LastModified = info.ModTime().UTC().Format(http.TimeFormat)
	}
	if meta.ContentType == "" {
		if detected, detectErr := mimetype.DetectFile(bodyPath); detectErr == nil {
			meta.ContentType = detected.String()
		}
	}

	f, err := os.Open(bodyPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, npmproxy.ErrNotFound
		}
		return nil, err
	}

	return npmproxy.NewAsset(assetPath, f, meta.LastModified, meta.ContentType), nil
}

// SaveAsset 完整消费 asset.Content 并原子写入正文与 sidecar。
func (s *Store) SaveAsset(ctx context.Context, asset *npmproxy.Asset) error {
	if asset == nil || asset.Path == "" {
		return errors.New("asset path required")
	}
	if asset.Content == nil {
		return errors.New("asset content required")
	}
	defer asset.Content.Close()

	unlock := s.lockEntry(assetsDir + "::" + asset.Path)
	defer unlock()

	bodyPath, err := s.entryPath(assetsDir, asset.Path)
	if err != nil {
		return err
	}

	if err := s.writeFile(ctx, bodyPath, asset.Content); err != nil {
		return err
	}
	return s.writeMeta(ctx, bodyPath, entryMeta{
		LastModified: asset.LastModified,
		ContentType:  asset.ContentType,
	})
}

// writeFile 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func (s *Store) writeFile(ctx context.Context, filePath string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *Store) writeMeta(ctx context.Context, bodyPath string, meta entryMeta) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.writeFile(ctx, bodyPath+metaSuffix, strings.NewReader(string(encoded)))
}

// readMeta 读取 sidecar；缺失不视为错误，调用方自行兜底默认值。
func (s *Store) readMeta(bodyPath string) (entryMeta, error) {
	var meta entryMeta
	raw, err := os.ReadFile(bodyPath + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil
		}
		return meta, err
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return meta, fmt.Errorf("decode meta sidecar: %w", err)
	}
	return meta, nil
}

func (s *Store) fileModTime(bodyPath string) string {
	info, err := os.Stat(bodyPath)
	if err != nil {
		return ""
	}
	return info.ModTime().UTC().Format(http.TimeFormat)
}

func (s *Store) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// entryPath 将逻辑键映射为 basePath 下的文件路径，并防止目录穿越。
func (s *Store) entryPath(namespace, rel string) (string, error) {
	if rel == "" || rel == "/" {
		return "", errors.New("entry path required")
	}
	rel = path.Clean("/" + rel)
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return "", errors.New("entry path required")
	}

	root := filepath.Join(s.basePath, namespace)
	filePath := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(filePath, root+string(filepath.Separator)) {
		return "", errors.New("invalid storage path")
	}
	return filePath, nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
