package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/smartmark/internal/auth"
	"github.com/hitoshi/smartmark/internal/bookmark"
	"github.com/hitoshi/smartmark/internal/config"
	"github.com/hitoshi/smartmark/internal/database"
	"github.com/hitoshi/smartmark/internal/handler"
	"github.com/hitoshi/smartmark/internal/hatebu"
	"github.com/hitoshi/smartmark/internal/logger"
	"github.com/hitoshi/smartmark/internal/metrics"
	"github.com/hitoshi/smartmark/internal/middleware"
	"github.com/hitoshi/smartmark/internal/preview"
	"github.com/hitoshi/smartmark/internal/realtime"
	"github.com/hitoshi/smartmark/internal/repository"
	"github.com/hitoshi/smartmark/internal/security"
	"github.com/hitoshi/smartmark/internal/session"
	"github.com/hitoshi/smartmark/internal/user"
	"github.com/hitoshi/smartmark/internal/web"
	"github.com/hitoshi/smartmark/internal/worker/cleanup"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, "info")

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. LOG_LEVELを反映する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// newRegistry はプロセス・Goランタイムのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと変更フィードの受信を開始する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクス
	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 3. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	bookmarkRepo := repository.NewPostgresBookmarkRepo(db)

	// 4. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	titleSanitizer := security.NewTitleSanitizer()

	// 5. 認証・セッション
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, userRepo, identRepo, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	stateSigner := auth.NewStateSigner(cfg.SessionSecret, auth.DefaultStateTTL)
	sessions := session.NewClient(authService, session.Config{
		CacheTTL: cfg.SessionCacheTTL,
		Recorder: collector,
	})
	defer sessions.Close()

	// 6. ドメインサービスの初期化
	bookmarkService := bookmark.NewService(bookmarkRepo, titleSanitizer, collector)
	previewService := preview.NewService(ssrfGuard, titleSanitizer, cfg.PreviewTimeout, cfg.PreviewMaxSize, collector)
	userService := user.NewService(userRepo, bookmarkService, sessions)

	// 7. 変更フィード
	hub := realtime.NewHub(realtime.DefaultBufferSize, collector)
	defer hub.Close()

	listener, err := realtime.NewPGListener(cfg.DatabaseURL, hub)
	if err != nil {
		return fmt.Errorf("failed to start change feed: %w", err)
	}
	defer listener.Close()

	go func() {
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("change feed stopped", slog.String("error", err.Error()))
		}
	}()

	// 8. ルーターの構築
	renderer, err := web.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitBookmarkCreate),
	)
	defer rateLimiter.Stop()

	// シャットダウン開始時にSSE接続を終了させ、Shutdownが長寿命接続を待ち続けないようにする
	streamShutdown := make(chan struct{})

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		SessionRefresher:  sessions,
		SessionConfig:     middleware.SessionConfig{CookieDomain: cfg.CookieDomain, CookieSecure: cfg.CookieSecure},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HTTPRecorder:      collector,

		Renderer: renderer,

		Sessions:   sessions,
		LoginURL:   authService,
		StateCheck: stateSigner,

		Bookmarks: bookmarkService,
		Feed:      hub,
		Preview:   previewService,

		UserService: userService,

		DB:             db,
		MetricsHandler: metrics.Handler(reg),
		StreamShutdown: streamShutdown,
	})

	// 9. HTTPサーバーの起動
	// SSE接続はハンドラー側で書き込み期限を解除する
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	server.RegisterOnShutdown(sync.OnceFunc(func() { close(streamShutdown) }))

	return serveUntilDone(ctx, server)
}

// serveUntilDone はctxがキャンセルされるまでサーバーを実行し、その後グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// はてなブックマーク数の更新バッチと期限切れセッションの削除を実行し、/metricsを公開する。
// ctxがキャンセルされるとシャットダウンする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	bookmarkRepo := repository.NewPostgresBookmarkRepo(db)

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, slog.Default())
	cleanupJob.Interval = cfg.SessionCleanupInterval

	// 4. はてなブックマークバッチジョブの初期化
	hatebuClient := hatebu.NewClient(
		&http.Client{Timeout: 10 * time.Second},
		slog.Default(),
	)
	hatebuBatch := hatebu.NewBatchJob(bookmarkRepo, hatebuClient, slog.Default(), hatebu.BatchConfig{
		BatchInterval:    cfg.HatebuBatchInterval,
		APIInterval:      cfg.HatebuAPIInterval,
		MaxCallsPerCycle: cfg.HatebuMaxCallsPerCycle,
		HatebuTTL:        cfg.HatebuTTL,
	}, collector)

	slog.Info("worker starting",
		slog.Duration("hatebu_interval", cfg.HatebuBatchInterval),
		slog.Duration("cleanup_interval", cfg.SessionCleanupInterval),
	)

	go hatebuBatch.Start(ctx)
	go cleanupJob.Start(ctx)

	// メトリクスのみを公開するサーバーをメインgoroutineで実行（ブロッキング）
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := serveUntilDone(ctx, server); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
