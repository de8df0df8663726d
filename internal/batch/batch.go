// Package batch разбирает много записей пулом фиксированного размера.
package batch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/annel0/slp-replay/internal/logging"
	"github.com/annel0/slp-replay/internal/replay"
)

// Расширения файлов записей
var Extensions = []string{".slp", ".slp.zst", ".slp.gz"}

// Config
type Config struct {
	Workers   int  `yaml:"workers" env:"SLP_BATCH_WORKERS"`
	Recursive bool `yaml:"recursive" env:"SLP_BATCH_RECURSIVE"`
}

// IsReplayFile
func IsReplayFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Discover раскрывает файлы и каталоги в список записей.
// Файлы, указанные явно, берутся независимо от расширения; каталоги
// сканируются по Extensions. Порядок: как в paths, внутри каталога лексикографический.
func Discover(paths []string, recursive bool) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("discover: %w", err)
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}

		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && !recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if IsReplayFile(d.Name()) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", p, err)
		}
		slices.Sort(found)
		out = append(out, found...)
	}
	return out, nil
}

// Result итог одного файла. Ошибка одного файла не прерывает остальные.
type Result struct {
	Path string
	Game *replay.Game
	Err  error
	Took time.Duration
}

// DecodeFunc разбор одного файла; по умолчанию replay.DecodeFile
type DecodeFunc func(ctx context.Context, path string) (*replay.Game, error)

// Run разбирает files не более чем workers параллельно.
// Результаты в порядке входа. Ошибка возвращается только при отмене ctx.
func Run(ctx context.Context, files []string, workers int, decode DecodeFunc) ([]Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]Result, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			game, err := decode(gctx, path)
			results[i] = Result{Path: path, Game: game, Err: err, Took: time.Since(start)}
			if err != nil {
				logging.Warn("❌ %s: %v", path, err)
			} else {
				logging.Debug("✅ %s decoded in %v", path, results[i].Took)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

// FileDecoder DecodeFunc поверх replay.DecodeFile с опциями
func FileDecoder(opts replay.Options) DecodeFunc {
	return func(ctx context.Context, path string) (*replay.Game, error) {
		return replay.DecodeFile(ctx, path, opts)
	}
}
