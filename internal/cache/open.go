package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	BackendFS      = "fs"
	BackendLevelDB = "leveldb"
)

// Open 根据后端名称打开缓存存储，leveldb 数据库位于 <path>/leveldb。
func Open(backend, path string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFS:
		return NewFileStorage(path)
	case BackendLevelDB:
		return NewLevelDBStorage(filepath.Join(path, "leveldb"))
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", backend)
	}
}
