package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/wingedpig/iporg-history/internal/keyschema"
	"github.com/wingedpig/iporg-history/pkg/model"
)

// LeveldbStore is the production Store, backed by github.com/syndtr/goleveldb:
// a single embedded KV engine, snappy-compressed on disk. Sets and IP
// counts are msgpack-encoded; the last-date string is stored as raw bytes.
// Sets (dates, asns, prefixes) are stored as a single
// msgpack-encoded []string per key, which is adequate at this store's
// access pattern — read-whole-set, rarely-appended-to — rather than one
// LevelDB row per member.
type LeveldbStore struct {
	db *leveldb.DB
	mu sync.RWMutex
}

func OpenLeveldbStore(path string) (*LeveldbStore, error) {
	opts := &opt.Options{
		Compression: opt.SnappyCompression,
		WriteBuffer: 64 * 1024 * 1024,
	}
	db, err := leveldb.OpenFile(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage database: %w", err)
	}
	return &LeveldbStore{db: db}, nil
}

func (s *LeveldbStore) Close() error {
	return s.db.Close()
}

func (s *LeveldbStore) readSet(key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q failed: %w", key, err)
	}
	var out []string
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode set %q failed: %w", key, err)
	}
	return out, nil
}

func (s *LeveldbStore) addToSet(key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.db.Get([]byte(key), nil)
	var members []string
	if err == nil {
		if uerr := msgpack.Unmarshal(data, &members); uerr != nil {
			return fmt.Errorf("decode set %q failed: %w", key, uerr)
		}
	} else if err != leveldb.ErrNotFound {
		return fmt.Errorf("get %q failed: %w", key, err)
	}

	for _, m := range members {
		if m == member {
			return nil
		}
	}
	members = append(members, member)

	encoded, err := msgpack.Marshal(members)
	if err != nil {
		return fmt.Errorf("encode set %q failed: %w", key, err)
	}
	return s.db.Put([]byte(key), encoded, nil)
}

func (s *LeveldbStore) getString(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %q failed: %w", key, err)
	}
	return string(data), nil
}

func (s *LeveldbStore) putString(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put([]byte(key), []byte(value), nil)
}

func (s *LeveldbStore) getInt64(key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := s.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %q failed: %w", key, err)
	}
	var v int64
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return 0, fmt.Errorf("decode int %q failed: %w", key, err)
	}
	return v, nil
}

func (s *LeveldbStore) putInt64(key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode int %q failed: %w", key, err)
	}
	return s.db.Put([]byte(key), data, nil)
}

func (s *LeveldbStore) Sources(ctx context.Context) ([]string, error) {
	return s.readSet(keyschema.PrefixesKey)
}

func (s *LeveldbStore) AddSource(ctx context.Context, source string) error {
	return s.addToSet(keyschema.PrefixesKey, source)
}

func (s *LeveldbStore) Dates(ctx context.Context, source string, family model.Family) ([]string, error) {
	return s.readSet(keyschema.DatesKey(source, family))
}

func (s *LeveldbStore) AddDate(ctx context.Context, source string, family model.Family, date string) error {
	if err := s.addToSet(keyschema.DatesKey(source, family), date); err != nil {
		return err
	}
	return s.AddSource(ctx, source)
}

func (s *LeveldbStore) LastDate(ctx context.Context, source string, family model.Family) (string, error) {
	return s.getString(keyschema.LastKey(source, family))
}

func (s *LeveldbStore) SetLastDate(ctx context.Context, source string, family model.Family, date string) error {
	return s.putString(keyschema.LastKey(source, family), date)
}

func (s *LeveldbStore) Asns(ctx context.Context, source string, family model.Family, date string) ([]string, error) {
	return s.readSet(keyschema.AsnsKey(source, family, date))
}

func (s *LeveldbStore) AddAsn(ctx context.Context, source string, family model.Family, date, asn string) error {
	return s.addToSet(keyschema.AsnsKey(source, family, date), asn)
}

func (s *LeveldbStore) AsnPrefixes(ctx context.Context, source string, family model.Family, date, asn string) ([]string, error) {
	return s.readSet(keyschema.AsnPrefixesKey(source, family, date, asn))
}

func (s *LeveldbStore) AddAsnPrefix(ctx context.Context, source string, family model.Family, date, asn, prefix string) error {
	if err := s.addToSet(keyschema.AsnPrefixesKey(source, family, date, asn), prefix); err != nil {
		return err
	}
	return s.AddAsn(ctx, source, family, date, asn)
}

func (s *LeveldbStore) IPCount(ctx context.Context, source string, family model.Family, date, asn string) (int64, error) {
	return s.getInt64(keyschema.AsnIPCountKey(source, family, date, asn))
}

func (s *LeveldbStore) SetIPCount(ctx context.Context, source string, family model.Family, date, asn string, count int64) error {
	return s.putInt64(keyschema.AsnIPCountKey(source, family, date, asn), count)
}
