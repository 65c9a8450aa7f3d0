package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/smartmark/internal/dashboard"
	"github.com/hitoshi/smartmark/internal/middleware"
	"github.com/hitoshi/smartmark/internal/web"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SessionRefresher  middleware.SessionRefresher
	SessionConfig     middleware.SessionConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	HTTPRecorder      middleware.HTTPRecorder

	// 画面
	Renderer *web.Renderer

	// 認証
	Sessions   SessionClient
	LoginURL   LoginURLProvider
	StateCheck StateVerifier

	// ブックマーク
	Bookmarks dashboard.Store
	Feed      dashboard.Feed
	Preview   PreviewFetcher

	// ユーザー
	UserService UserServiceInterface

	// 運用
	DB             Pinger
	MetricsHandler http.Handler

	// StreamShutdown がクローズされるとSSE接続を終了する。
	StreamShutdown <-chan struct{}
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → CORS → Logging → CSRF → Session → RateLimit(General)
//
// 認証ルート（/auth/*）とトップページはセッション不要。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.HTTPRecorder))
	r.Use(middleware.NewCSRFMiddleware(middleware.CSRFConfig{
		CookieSecure: deps.SessionConfig.CookieSecure,
		CookieDomain: deps.SessionConfig.CookieDomain,
	}))

	authHandler := NewAuthHandler(deps.Sessions, deps.LoginURL, deps.StateCheck, deps.Renderer, deps.SessionConfig)
	dashboardHandler := NewDashboardHandler(deps.Sessions, deps.Bookmarks, deps.Feed, deps.Renderer)
	dashboardHandler.Shutdown = deps.StreamShutdown
	bookmarkHandler := NewBookmarkHandler(deps.Bookmarks, deps.Preview)
	userHandler := NewUserHandler(deps.UserService, deps.SessionConfig)

	// --- 認証不要のルート ---

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		deps.Renderer.Render(w, http.StatusOK, "home.html", web.Page{
			Title:     "Smartmark",
			CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		})
	})
	r.Handle("/static/*", web.StaticHandler())

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", authHandler.Login)
		r.Get("/callback", authHandler.Callback)
		r.Get("/redirect", authHandler.Redirect)
		r.Post("/logout", authHandler.Logout)
	})
	r.Get("/auth-error", authHandler.AuthError)
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(middleware.CSRFConfig{
		CookieSecure: deps.SessionConfig.CookieSecure,
		CookieDomain: deps.SessionConfig.CookieDomain,
	}).ServeHTTP)

	if deps.DB != nil {
		r.Get("/health", Health(deps.DB))
	}
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- ダッシュボード表示と変更ストリーム ---
	// 未認証の扱いはViewが決める。画面は "/" へリダイレクトし、
	// ストリームはEventSourceが解釈できるよう unauthenticated イベントを返す。
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionRefresher, deps.SessionConfig))

		r.Get("/dashboard", dashboardHandler.Show)
		r.Get("/dashboard/events", dashboardHandler.Events)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionRefresher, deps.SessionConfig))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.With(deps.RateLimiter.BookmarkCreateMiddleware()).Post("/dashboard/bookmarks", dashboardHandler.Create)
		r.Post("/dashboard/bookmarks/{id}/delete", dashboardHandler.Delete)

		r.Get("/api/me", authHandler.Me)

		r.Route("/api/bookmarks", func(r chi.Router) {
			r.Get("/", bookmarkHandler.List)
			r.With(deps.RateLimiter.BookmarkCreateMiddleware()).Post("/", bookmarkHandler.Create)
			r.Get("/preview", bookmarkHandler.Preview)
			r.Delete("/{id}", bookmarkHandler.Delete)
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Delete("/me", userHandler.Withdraw)
		})
	})

	return r
}
