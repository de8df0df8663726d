// Команда slpstat разбирает файлы записей и печатает результат в JSON,
// по строке на файл.
//
//	slpstat -recursive -workers 8 ./replays > stats.ndjson
//	slpstat -store data ./replays   # заодно сохранить сводки в хранилище
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/annel0/slp-replay/internal/app"
	"github.com/annel0/slp-replay/internal/batch"
	"github.com/annel0/slp-replay/internal/config"
	"github.com/annel0/slp-replay/internal/logging"
	"github.com/annel0/slp-replay/internal/replay"
	"github.com/annel0/slp-replay/internal/storage"
)

// line одна строка вывода
type line struct {
	Path   string              `json:"path"`
	TookMS int64               `json:"took_ms"`
	Error  string              `json:"error,omitempty"`
	Game   *replay.Game        `json:"game,omitempty"`
	Record *storage.GameRecord `json:"record,omitempty"`
}

func main() {
	os.Exit(run())
}

// run возвращает код выхода; defer отрабатывают до os.Exit
func run() int {
	configPath := flag.String("config", "", "путь к YAML-конфигурации")
	frames := flag.Bool("frames", false, "включить кадры в вывод (без -store)")
	noStats := flag.Bool("no-stats", false, "не считать статистику")
	workers := flag.Int("workers", 0, "параллельных разборов (0: по числу CPU)")
	recursive := flag.Bool("recursive", false, "обходить подкаталоги")
	storePath := flag.String("store", "", "каталог хранилища: сохранить сводки")
	verbose := flag.Bool("v", false, "подробный журнал в stderr")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <file|dir>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("❌ Ошибка загрузки конфигурации: %v", err)
		return 2
	}

	logging.SetDefaultLevel(logging.WARN)
	if *verbose {
		logging.SetDefaultLevel(logging.DEBUG)
	}

	opts := cfg.Options()
	opts.DecodeFrames = *frames
	opts.ComputeStatistics = !*noStats
	if *workers > 0 {
		cfg.Batch.Workers = *workers
	}
	if *recursive {
		cfg.Batch.Recursive = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := batch.Discover(flag.Args(), cfg.Batch.Recursive)
	if err != nil {
		log.Printf("❌ %v", err)
		return 2
	}
	if len(files) == 0 {
		log.Printf("❌ файлы записей не найдены")
		return 2
	}

	decode := batch.FileDecoder(opts)
	var records sync.Map
	if *storePath != "" {
		cfg.Storage.Path = *storePath
		lib, closeLib, err := openLibrary(cfg, opts)
		if err != nil {
			log.Printf("❌ %v", err)
			return 1
		}
		defer closeLib()
		decode = ingestDecoder(lib, &records)
	}

	results, runErr := batch.Run(ctx, files, cfg.Batch.Workers, decode)

	enc := json.NewEncoder(os.Stdout)
	failed := 0
	for _, r := range results {
		if r.Path == "" {
			continue // не запущен из-за отмены
		}
		out := line{Path: r.Path, TookMS: r.Took.Milliseconds(), Game: r.Game}
		if rec, ok := records.Load(r.Path); ok {
			out.Record = rec.(*storage.GameRecord)
		}
		if r.Err != nil {
			out.Error = r.Err.Error()
			failed++
		}
		if err := enc.Encode(out); err != nil {
			log.Printf("❌ stdout: %v", err)
			return 1
		}
	}

	fmt.Fprintf(os.Stderr, "📊 %d files, %d failed\n", len(files), failed)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "⚠️ прервано: %v\n", runErr)
		return 130
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func openLibrary(cfg *config.Config, opts replay.Options) (*app.Library, func(), error) {
	store, err := storage.NewGameStore(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	var archive *storage.Archive
	if dir := cfg.Storage.ArchiveDir(); dir != "" {
		if archive, err = storage.NewArchive(dir); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("archive: %w", err)
		}
	}
	lib, err := app.NewLibrary(app.Deps{Store: store, Archive: archive, Options: opts})
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return lib, func() {
		lib.Close()
		if archive != nil {
			archive.Close()
		}
		store.Close()
	}, nil
}

// ingestDecoder сохраняет файл через Library. Для дубликата Game пустой,
// в вывод попадает уже сохранённая запись.
func ingestDecoder(lib *app.Library, records *sync.Map) batch.DecodeFunc {
	return func(ctx context.Context, path string) (*replay.Game, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		res, err := lib.Ingest(ctx, path, data)
		if err != nil {
			return nil, err
		}
		records.Store(path, res.Record)
		return res.Game, nil
	}
}
