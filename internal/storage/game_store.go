// Package storage хранит сводки разобранных записей в BadgerDB.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/annel0/slp-replay/internal/logging"
)

var (
	ErrNotFound = errors.New("game not found")
	ErrClosed   = errors.New("storage closed")
)

// Префиксы ключей
const (
	prefixGame  = "game:"
	prefixHash  = "hash:"
	prefixIndex = "idx:"
)

// GameRecord заголовок сохранённой записи. Summary: JSON сводки без кадров,
// в списках не заполняется.
type GameRecord struct {
	ID            string          `json:"id"`
	Hash          string          `json:"hash"`
	Name          string          `json:"name,omitempty"`
	Size          int64           `json:"size"`
	StoredAt      time.Time       `json:"stored_at"`
	Version       string          `json:"version"`
	Stage         string          `json:"stage,omitempty"`
	Characters    []string        `json:"characters,omitempty"`
	ParsingErrors int             `json:"parsing_errors"`
	Summary       json.RawMessage `json:"summary,omitempty"`
}

// StorageConfig
type StorageConfig struct {
	Path     string `yaml:"path" env:"SLP_STORAGE_PATH"`
	InMemory bool   `yaml:"in_memory" env:"SLP_STORAGE_IN_MEMORY"`
	// ExpectedGames оценка для bloom-фильтра хешей
	ExpectedGames uint `yaml:"expected_games" env:"SLP_STORAGE_EXPECTED_GAMES"`
	// ArchiveRaw хранить исходные файлы в <Path>/raw
	ArchiveRaw bool `yaml:"archive_raw" env:"SLP_STORAGE_ARCHIVE_RAW"`
}

// ArchiveDir каталог архива; "": архив выключен
func (c StorageConfig) ArchiveDir() string {
	if !c.ArchiveRaw || c.InMemory || c.Path == "" {
		return ""
	}
	return filepath.Join(c.Path, "raw")
}

// GameStore хранилище сводок. Одна и та же запись (по xxhash содержимого)
// сохраняется один раз.
type GameStore struct {
	db *badger.DB

	mu      sync.RWMutex
	hashes  *bloom.BloomFilter
	isReady bool
}

// NewGameStore открывает базу по пути или в памяти
func NewGameStore(cfg StorageConfig) (*GameStore, error) {
	var opts badger.Options
	if cfg.InMemory || cfg.Path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(cfg.Path, "games"))
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	expected := cfg.ExpectedGames
	if expected == 0 {
		expected = 100_000
	}
	gs := &GameStore{
		db:      db,
		hashes:  bloom.NewWithEstimates(expected, 0.001),
		isReady: true,
	}
	if err := gs.loadHashes(); err != nil {
		db.Close()
		return nil, err
	}
	return gs, nil
}

// loadHashes прогревает bloom-фильтр известными хешами
func (gs *GameStore) loadHashes() error {
	n := 0
	err := gs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixHash)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			gs.hashes.Add(it.Item().Key()[len(prefix):])
			n++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка чтения индекса хешей: %w", err)
	}
	if n > 0 {
		logging.Info("💾 Game store: %d known replays", n)
	}
	return nil
}

// ContentHash хеш содержимого файла записи
func ContentHash(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Close
func (gs *GameStore) Close() error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if !gs.isReady {
		return nil
	}
	gs.isReady = false
	return gs.db.Close()
}

func (gs *GameStore) ready() error {
	if !gs.isReady {
		return ErrClosed
	}
	return nil
}

// FindByHash id ранее сохранённой записи с таким содержимым
func (gs *GameStore) FindByHash(ctx context.Context, hash string) (string, bool, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	if err := gs.ready(); err != nil {
		return "", false, err
	}
	if !gs.hashes.Test([]byte(hash)) {
		return "", false, nil
	}

	var id string
	err := gs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixHash + hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return id, true, ctx.Err()
}

// Save сохраняет запись; ID и StoredAt назначаются здесь.
// Если запись с тем же Hash уже есть, возвращается существующая и created=false.
func (gs *GameStore) Save(ctx context.Context, rec GameRecord) (*GameRecord, bool, error) {
	if rec.Hash == "" {
		return nil, false, errors.New("record hash is required")
	}
	if id, ok, err := gs.FindByHash(ctx, rec.Hash); err != nil {
		return nil, false, err
	} else if ok {
		existing, err := gs.Get(ctx, id)
		return existing, false, err
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	if err := gs.ready(); err != nil {
		return nil, false, err
	}

	rec.ID = uuid.NewString()
	rec.StoredAt = time.Now().UTC()

	full, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка сериализации записи: %w", err)
	}
	header := rec
	header.Summary = nil
	head, err := json.Marshal(header)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка сериализации записи: %w", err)
	}

	var existing *GameRecord
	err = gs.db.Update(func(txn *badger.Txn) error {
		// запись с тем же хешем могла появиться после FindByHash
		if item, err := txn.Get([]byte(prefixHash + rec.Hash)); err == nil {
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			existing, err = getTxn(txn, string(id))
			return err
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set([]byte(prefixGame+rec.ID), full); err != nil {
			return err
		}
		if err := txn.Set([]byte(prefixHash+rec.Hash), []byte(rec.ID)); err != nil {
			return err
		}
		return txn.Set(indexKey(rec.StoredAt, rec.ID), head)
	})
	if err != nil {
		return nil, false, fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	gs.hashes.Add([]byte(rec.Hash))
	logging.Debug("💾 Stored replay %s (%s, %d bytes)", rec.ID, rec.Hash, rec.Size)
	return &rec, true, nil
}

func getTxn(txn *badger.Txn, id string) (*GameRecord, error) {
	item, err := txn.Get([]byte(prefixGame + id))
	if err != nil {
		return nil, err
	}
	var rec GameRecord
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return &rec, err
}

func indexKey(at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixIndex, at.UnixNano(), id))
}

// Get полная запись со сводкой
func (gs *GameStore) Get(ctx context.Context, id string) (*GameRecord, error) {
	data, err := gs.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	var rec GameRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации записи: %w", err)
	}
	return &rec, nil
}

// Load сырой JSON записи; реализует cache.ColdStorage
func (gs *GameStore) Load(ctx context.Context, id string) ([]byte, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	if err := gs.ready(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	err := gs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixGame + id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}
	return data, nil
}

// List заголовки записей, новые первыми
func (gs *GameStore) List(ctx context.Context, offset, limit int) ([]GameRecord, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	if err := gs.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	out := make([]GameRecord, 0, limit)
	err := gs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixIndex)
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(append([]byte(prefixIndex), 0xFF)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if skipped < offset {
				skipped++
				continue
			}
			var rec GameRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения списка: %w", err)
	}
	return out, nil
}

// Count число сохранённых записей
func (gs *GameStore) Count(ctx context.Context) (int, error) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	if err := gs.ready(); err != nil {
		return 0, err
	}
	n := 0
	err := gs.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixIndex)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Delete удаляет запись и её индексы. Хеш остаётся в bloom-фильтре:
// ложное срабатывание отсекается чтением из базы.
func (gs *GameStore) Delete(ctx context.Context, id string) error {
	rec, err := gs.Get(ctx, id)
	if err != nil {
		return err
	}

	gs.mu.Lock()
	defer gs.mu.Unlock()
	if err := gs.ready(); err != nil {
		return err
	}
	err = gs.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(prefixGame + rec.ID)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixHash + rec.Hash)); err != nil {
			return err
		}
		return txn.Delete(indexKey(rec.StoredAt, rec.ID))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}
