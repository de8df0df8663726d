package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/annel0/slp-replay/internal/logging"
)

const archiveExt = ".slp.zst"

// Archive исходные файлы записей на диске, сжатые zstd.
// Ключ: хеш содержимого, файлы раскладываются по подкаталогам из первых двух символов.
type Archive struct {
	dir string
	enc *zstd.Encoder
}

// ArchiveStats
type ArchiveStats struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// NewArchive
func NewArchive(dir string) (*Archive, error) {
	if dir == "" {
		return nil, errors.New("archive: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	return &Archive{dir: dir, enc: enc}, nil
}

func (a *Archive) path(hash string) (string, error) {
	if len(hash) < 3 || strings.ContainsAny(hash, `/\.`) {
		return "", fmt.Errorf("archive: bad key %q", hash)
	}
	return filepath.Join(a.dir, hash[:2], hash+archiveExt), nil
}

// Put сохраняет data, если файла с таким хешем ещё нет.
// Запись через временный файл: частично записанный архив не виден.
func (a *Archive) Put(hash string, data []byte) error {
	name, err := a.path(hash)
	if err != nil {
		return err
	}
	if _, err := os.Stat(name); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(name), ".put-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(a.enc.EncodeAll(data, nil)); err != nil {
		tmp.Close()
		return fmt.Errorf("ошибка записи файла %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return err
	}
	logging.Debug("🗄️ Archived %s (%d bytes)", hash, len(data))
	return nil
}

type archiveReader struct {
	*zstd.Decoder
	f *os.File
}

func (r archiveReader) Close() error {
	r.Decoder.Close()
	return r.f.Close()
}

// Open исходные байты записи; ErrNotFound, если файла нет
func (a *Archive) Open(hash string) (io.ReadCloser, error) {
	name, err := a.path(hash)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return archiveReader{Decoder: dec, f: f}, nil
}

// Delete отсутствующий файл не ошибка
func (a *Archive) Delete(hash string) error {
	name, err := a.path(hash)
	if err != nil {
		return err
	}
	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Stats обходит каталог
func (a *Archive) Stats() (ArchiveStats, error) {
	var st ArchiveStats
	err := filepath.WalkDir(a.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, archiveExt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		st.Files++
		st.Bytes += info.Size()
		return nil
	})
	return st, err
}

// Close
func (a *Archive) Close() error {
	return a.enc.Close()
}
