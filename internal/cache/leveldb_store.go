package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	leveldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// leveldb 键空间：
//
//	s:<store>              → gob(storeMeta)
//	e:<store>\x00<key>     → gob(Entry)
const (
	levelStorePrefix = "s:"
	levelEntryPrefix = "e:"
	levelKeySep      = "\x00"
)

func init() {
	gob.Register(http.Header{})
}

// NewLevelDBStorage 在 path 下打开（或创建）leveldb 数据库作为缓存后端。
func NewLevelDBStorage(path string) (Storage, error) {
	if path == "" {
		return nil, errors.New("storage path required")
	}
	db, err := leveldb.OpenFile(path, nil)
	if leveldberrors.IsCorrupted(err) {
		db, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %s", path)
	}
	return &levelStorage{db: db, now: time.Now}, nil
}

type levelStorage struct {
	db  *leveldb.DB
	now func() time.Time

	// mu 串行化仓的创建/删除，条目读写依赖 leveldb 自身的并发安全。
	mu sync.RWMutex
}

func (s *levelStorage) Open(ctx context.Context, name string) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metaKey := []byte(levelStorePrefix + name)
	ok, err := s.db.Has(metaKey, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup cache %s", name)
	}
	if !ok {
		raw, err := encodeGob(storeMeta{Name: name, CreatedAt: s.now().UTC()})
		if err != nil {
			return nil, err
		}
		if err := s.db.Put(metaKey, raw, nil); err != nil {
			return nil, errors.Wrapf(err, "create cache %s", name)
		}
	}
	return &levelStore{storage: s, name: name}, nil
}

func (s *levelStorage) Has(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ok, err := s.db.Has([]byte(levelStorePrefix+name), nil)
	return ok, errors.Wrapf(err, "lookup cache %s", name)
}

func (s *levelStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateName(name); err != nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metaKey := []byte(levelStorePrefix + name)
	ok, err := s.db.Has(metaKey, nil)
	if err != nil {
		return false, errors.Wrapf(err, "lookup cache %s", name)
	}
	if !ok {
		return false, nil
	}

	batch := new(leveldb.Batch)
	batch.Delete(metaKey)
	it := s.db.NewIterator(util.BytesPrefix(entryPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, errors.Wrapf(err, "scan cache %s", name)
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, errors.Wrapf(err, "delete cache %s", name)
	}
	return true, nil
}

func (s *levelStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.db.NewIterator(util.BytesPrefix([]byte(levelStorePrefix)), nil)
	defer it.Release()

	var metas []storeMeta
	for it.Next() {
		var meta storeMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(err, "list caches")
	}
	sort.SliceStable(metas, func(i, j int) bool {
		if metas[i].CreatedAt.Equal(metas[j].CreatedAt) {
			return metas[i].Name < metas[j].Name
		}
		return metas[i].CreatedAt.Before(metas[j].CreatedAt)
	})
	names := make([]string, len(metas))
	for i, meta := range metas {
		names[i] = meta.Name
	}
	return names, nil
}

func (s *levelStorage) Match(ctx context.Context, key Key) (*Entry, error) {
	names, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		entry, err := (&levelStore{storage: s, name: name}).Match(ctx, key)
		if err == nil {
			return entry, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrNotFound
}

func (s *levelStorage) Close() error {
	return s.db.Close()
}

type levelStore struct {
	storage *levelStorage
	name    string
}

func (l *levelStore) Name() string {
	return l.name
}

func (l *levelStore) Match(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.storage.mu.RLock()
	defer l.storage.mu.RUnlock()

	raw, err := l.storage.db.Get(l.entryKey(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrapf(err, "read %s from cache %s", key, l.name)
	}
	var entry Entry
	if err := decodeGob(raw, &entry); err != nil || entry.Response == nil {
		return nil, ErrNotFound
	}
	if entry.Response.Header == nil {
		entry.Response.Header = http.Header{}
	}
	return &entry, nil
}

func (l *levelStore) Put(ctx context.Context, key Key, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.storage.mu.RLock()
	defer l.storage.mu.RUnlock()

	ok, err := l.storage.db.Has([]byte(levelStorePrefix+l.name), nil)
	if err != nil {
		return errors.Wrapf(err, "lookup cache %s", l.name)
	}
	if !ok {
		return errors.Errorf("cache %s unavailable", l.name)
	}

	raw, err := encodeGob(Entry{Key: key, Response: resp, StoredAt: l.storage.now().UTC()})
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return errors.Wrapf(l.storage.db.Put(l.entryKey(key), raw, nil), "write %s to cache %s", key, l.name)
}

func (l *levelStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.storage.mu.RLock()
	defer l.storage.mu.RUnlock()
	return errors.Wrapf(l.storage.db.Delete(l.entryKey(key), nil), "delete %s from cache %s", key, l.name)
}

func (l *levelStore) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.storage.mu.RLock()
	defer l.storage.mu.RUnlock()

	it := l.storage.db.NewIterator(util.BytesPrefix(entryPrefix(l.name)), nil)
	defer it.Release()

	var keys []Key
	for it.Next() {
		var entry Entry
		if err := decodeGob(it.Value(), &entry); err != nil {
			continue
		}
		keys = append(keys, entry.Key)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrapf(err, "list keys of cache %s", l.name)
	}
	return keys, nil
}

func (l *levelStore) entryKey(key Key) []byte {
	return append(entryPrefix(l.name), key.String()...)
}

func entryPrefix(name string) []byte {
	return []byte(levelEntryPrefix + name + levelKeySep)
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	dec := gob.NewDecoder(bytes.NewReader(b))
	return dec.Decode(v)
}
