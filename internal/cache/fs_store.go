package cache

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	storeMetaFile  = "store.json"
	bodySuffix     = ".body"
	metaSuffix     = ".meta.json"
	tempFilePrefix = ".cache-"
)

// NewFileStorage 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
//
//	<basePath>/<store>/store.json          # 仓元数据（创建时间）
//	<basePath>/<store>/<sha1>.body         # 响应正文
//	<basePath>/<store>/<sha1>.meta.json    # 请求键、状态码、Header
func NewFileStorage(basePath string) (Storage, error) {
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

	return &fileStorage{
		basePath: abs,
		locks:    make(map[string]*entryLock),
		now:      time.Now,
	}, nil
}

// fileStorage 通过 entryLock 串行化同一条目的读写；仓级删除持有写锁，与条目读写互斥。
type fileStorage struct {
	basePath string
	now      func() time.Time

	storesMu sync.RWMutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

type storeMeta struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type entryMeta struct {
	Key      Key       `json:"key"`
	Response Response  `json:"response"`
	StoredAt time.Time `json:"stored_at"`
}

func (s *fileStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.storesMu.Lock()
	defer s.storesMu.Unlock()

	dir := s.storeDir(name)
	metaPath := filepath.Join(dir, storeMetaFile)
	if _, err := os.Stat(metaPath); err == nil {
		return &fileStore{storage: s, name: name, dir: dir}, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache %s: %w", name, err)
	}
	raw, err := json.Marshal(storeMeta{Name: name, CreatedAt: s.now().UTC()})
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(dir, metaPath, raw); err != nil {
		return nil, fmt.Errorf("write cache meta %s: %w", name, err)
	}
	return &fileStore{storage: s, name: name, dir: dir}, nil
}

func (s *fileStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, nil
	}
	s.storesMu.RLock()
	defer s.storesMu.RUnlock()
	_, err := os.Stat(filepath.Join(s.storeDir(name), storeMetaFile))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *fileStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, nil
	}

	s.storesMu.Lock()
	defer s.storesMu.Unlock()

	dir := s.storeDir(name)
	if _, err := os.Stat(filepath.Join(dir, storeMetaFile)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, fmt.Errorf("delete cache %s: %w", name, err)
	}
	return true, nil
}

func (s *fileStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.storesMu.RLock()
	defer s.storesMu.RUnlock()
	metas, err := s.listStores()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(metas))
	for i, meta := range metas {
		names[i] = meta.Name
	}
	return names, nil
}

func (s *fileStorage) Match(ctx context.Context, key Key) (*Entry, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		store := &fileStore{storage: s, name: name, dir: s.storeDir(name)}
		entry, err := store.Match(ctx, key)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *fileStorage) Close() error {
	return nil
}

// listStores 读取所有仓的元数据并按创建时间排序，缺失元数据的目录被忽略。
func (s *fileStorage) listStores() ([]storeMeta, error) {
	dirents, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}
	metas := make([]storeMeta, 0, len(dirents))
	for _, dirent := range dirents {
		if !dirent.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.basePath, dirent.Name(), storeMetaFile))
		if err != nil {
			continue
		}
		var meta storeMeta
		if err := json.Unmarshal(raw, &meta); err != nil || meta.Name != dirent.Name() {
			continue
		}
		metas = append(metas, meta)
	}
	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].Name < metas[j].Name
		}
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	return metas, nil
}

func (s *fileStorage) storeDir(name string) string {
	return filepath.Join(s.basePath, name)
}

func (s *fileStorage) lockEntry(key string) func() {
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

// fileStore 是 fileStorage 下单个命名仓的句柄。
type fileStore struct {
	storage *fileStorage
	name    string
	dir     string
}

func (f *fileStore) Name() string {
	return f.name
}

func (f *fileStore) Match(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.storage.storesMu.RLock()
	defer f.storage.storesMu.RUnlock()

	// 正文与 .meta.json 分别原子替换，读取需与 Put 持有同一条目锁才能拿到成对的版本。
	unlock := f.storage.lockEntry(f.name + "::" + key.String())
	defer unlock()

	base := f.entryBase(key)
	raw, err := os.ReadFile(base + metaSuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isDirError(base+metaSuffix) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, ErrNotFound
	}
	if meta.Key != key {
		return nil, ErrNotFound
	}

	body, err := os.ReadFile(base + bodySuffix)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || isDirError(base+bodySuffix) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	resp := meta.Response
	resp.Body = body
	if resp.Header == nil {
		resp.Header = make(map[string][]string)
	}
	return &Entry{Key: meta.Key, Response: &resp, StoredAt: meta.StoredAt}, nil
}

func (f *fileStore) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.storage.storesMu.RLock()
	defer f.storage.storesMu.RUnlock()

	unlock := f.storage.lockEntry(f.name + "::" + key.String())
	defer unlock()

	if _, err := os.Stat(filepath.Join(f.dir, storeMetaFile)); err != nil {
		return fmt.Errorf("cache %s unavailable: %w", f.name, err)
	}

	base := f.entryBase(key)
	if err := writeStreamAtomic(ctx, f.dir, base+bodySuffix, bytes.NewReader(resp.Body)); err != nil {
		return err
	}

	meta := entryMeta{Key: key, Response: *resp, StoredAt: f.storage.now().UTC()}
	meta.Response.Body = nil
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.dir, base+metaSuffix, raw)
}

func (f *fileStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.storage.storesMu.RLock()
	defer f.storage.storesMu.RUnlock()

	unlock := f.storage.lockEntry(f.name + "::" + key.String())
	defer unlock()

	base := f.entryBase(key)
	for _, path := range []string{base + metaSuffix, base + bodySuffix} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (f *fileStore) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.storage.storesMu.RLock()
	defer f.storage.storesMu.RUnlock()

	dirents, err := os.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	keys := make([]Key, 0, len(dirents))
	for _, dirent := range dirents {
		if dirent.IsDir() || !strings.HasSuffix(dirent.Name(), metaSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.dir, dirent.Name()))
		if err != nil {
			continue
		}
		var meta entryMeta
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		keys = append(keys, meta.Key)
	}
	return keys, nil
}

func (f *fileStore) entryBase(key Key) string {
	sum := sha1.Sum([]byte(key.String()))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:]))
}

// ValidateName 拒绝空名称、路径分隔符与 "."/".."，避免仓目录逃逸出根目录。
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrInvalidName
	}
	return nil
}

func isDirError(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func writeFileAtomic(dir, target string, data []byte) error {
	return writeStreamAtomic(context.Background(), dir, target, bytes.NewReader(data))
}

// writeStreamAtomic 通过临时文件 + rename 保证写入原子性，失败时清理临时文件。
func writeStreamAtomic(ctx context.Context, dir, target string, body io.Reader) error {
	tempFile, err := os.CreateTemp(dir, tempFilePrefix+"*")
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

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
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
