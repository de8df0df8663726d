package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/annel0/slp-replay/internal/api"
	"github.com/annel0/slp-replay/internal/app"
	"github.com/annel0/slp-replay/internal/auth"
	"github.com/annel0/slp-replay/internal/cache"
	"github.com/annel0/slp-replay/internal/config"
	"github.com/annel0/slp-replay/internal/eventbus"
	"github.com/annel0/slp-replay/internal/logging"
	"github.com/annel0/slp-replay/internal/metrics"
	"github.com/annel0/slp-replay/internal/notify"
	"github.com/annel0/slp-replay/internal/observability"
	"github.com/annel0/slp-replay/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML-конфигурации (по умолчанию $SLP_CONFIG)")
	issueToken := flag.String("issue-token", "", "выпустить токен для subject и выйти")
	scopes := flag.String("scopes", auth.ScopeWrite, "scope через запятую для -issue-token")
	flag.Parse()

	// .env необязателен
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("⚠️ .env: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if *issueToken != "" {
		if err := printToken(cfg.Auth, *issueToken, *scopes); err != nil {
			log.Fatalf("❌ %v", err)
		}
		return
	}

	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	logging.SetDefaultLevel(logging.ParseLevel(cfg.Log.Level))

	if err := run(cfg); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func printToken(cfg auth.Config, subject, scopes string) error {
	if cfg.Secret == "" {
		return fmt.Errorf("SLP_JWT_SECRET не задан: токен будет недействителен для сервера")
	}
	a, err := auth.NewAuthenticator(cfg)
	if err != nil {
		return err
	}
	token, err := a.Issue(subject, strings.Split(scopes, ",")...)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info("🎮 Запуск slp-replay: REST=%d, storage=%q", cfg.Server.GetRESTPort(), cfg.Storage.Path)

	if cfg.Telemetry.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Telemetry)
		if err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	store, err := storage.NewGameStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	var archive *storage.Archive
	if dir := cfg.Storage.ArchiveDir(); dir != "" {
		if archive, err = storage.NewArchive(dir); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		defer archive.Close()
		logging.Info("🗄️ Исходные файлы сохраняются в %s", dir)
	}

	repo, err := cache.New(cfg.Cache, store)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer repo.Close()

	bus, err := eventbus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("eventbus: %w", err)
	}
	defer bus.Close()

	exporter := eventbus.NewMetricsExporter(bus, prometheus.DefaultRegisterer)
	exporter.Start(15 * time.Second)
	defer exporter.Stop()

	if _, err := eventbus.StartLoggingListener(bus); err != nil {
		return fmt.Errorf("logging listener: %w", err)
	}

	if cfg.Webhooks.Enabled() {
		n, err := notify.NewNotifier(bus, cfg.Webhooks)
		if err != nil {
			return err
		}
		defer n.Close()
	}

	lib, err := app.NewLibrary(app.Deps{
		Store:   store,
		Archive: archive,
		Cache:   repo,
		Bus:     bus,
		Metrics: metrics.NewDecodeMetrics(prometheus.DefaultRegisterer),
		Options: cfg.Options(),
	})
	if err != nil {
		return err
	}
	defer lib.Close()

	var authn *auth.Authenticator
	if cfg.Auth.Required {
		if authn, err = auth.NewAuthenticator(cfg.Auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		logging.Info("🔐 JWT авторизация включена для записи и удаления")
	}

	rs, err := api.NewRestServer(api.Config{
		Port:         cfg.Server.GetRESTPort(),
		Library:      lib,
		Bus:          bus,
		Auth:         authn,
		AuthRequired: cfg.Auth.Required,
		MaxUpload:    cfg.Server.GetMaxUploadBytes(),
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- rs.Start() }()

	logging.Info("✅ Сервис готов")
	logging.Info("   🌐 REST API: http://localhost:%d/api/replays", cfg.Server.GetRESTPort())
	logging.Info("   ❤️  Health check: http://localhost:%d/health", cfg.Server.GetRESTPort())

	select {
	case <-ctx.Done():
		logging.Info("📡 Получен сигнал, завершение работы...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("rest: %w", err)
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rs.Stop(sctx); err != nil {
		logging.Error("❌ Ошибка остановки REST API: %v", err)
	}
	logging.Info("👋 Сервер успешно остановлен")
	return nil
}
