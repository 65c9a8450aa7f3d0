package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/smartmark/internal/dashboard"
	"github.com/hitoshi/smartmark/internal/middleware"
	"github.com/hitoshi/smartmark/internal/model"
	"github.com/hitoshi/smartmark/internal/web"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	eventBufferSize          = 16
)

// dashboardData はdashboard.htmlに渡す表示データ。
type dashboardData struct {
	Email       string
	SigningOut  bool
	FormTitle   string
	FormURL     string
	FormError   string
	ListError   string
	DeleteError string
	Bookmarks   []model.Bookmark
}

// DashboardHandler はダッシュボード画面とその変更ストリームのHTTPハンドラー。
// リクエストごとにdashboard.Viewを生成し、その状態を描画する。
type DashboardHandler struct {
	sessions dashboard.Sessions
	store    dashboard.Store
	feed     dashboard.Feed
	renderer *web.Renderer

	// Heartbeat はSSE接続のキープアライブ間隔。送信ごとにセッションの有効性も確認する。
	Heartbeat time.Duration

	// Shutdown がクローズされるとSSE接続を終了する。http.Server.RegisterOnShutdown から閉じる。
	Shutdown <-chan struct{}
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(sessions dashboard.Sessions, store dashboard.Store, feed dashboard.Feed, renderer *web.Renderer) *DashboardHandler {
	return &DashboardHandler{
		sessions:  sessions,
		store:     store,
		feed:      feed,
		renderer:  renderer,
		Heartbeat: defaultHeartbeatInterval,
	}
}

// startView はリクエストのセッションでViewを開始する。
// 未認証の場合はfalseを返し、呼び出し側はnav.PathOrの遷移先へリダイレクトする。
func (h *DashboardHandler) startView(r *http.Request) (*dashboard.View, *navigation, bool) {
	nav := &navigation{}
	view := dashboard.NewView(h.sessions, h.store, middleware.SessionToken(r), nav.Navigate)
	if view.Start(r.Context()) != dashboard.StateAuthenticated {
		view.Close()
		return nil, nav, false
	}
	return view, nav, true
}

// Show はダッシュボードを表示する。
// GET /dashboard
func (h *DashboardHandler) Show(w http.ResponseWriter, r *http.Request) {
	view, nav, ok := h.startView(r)
	if !ok {
		http.Redirect(w, r, nav.PathOr("/"), http.StatusSeeOther)
		return
	}
	defer view.Close()

	h.render(w, r, http.StatusOK, view, "")
}

// Create はフォームからブックマークを追加する。
// 失敗した場合は入力値とエラーを保持したままダッシュボードを再表示する。
// POST /dashboard/bookmarks
func (h *DashboardHandler) Create(w http.ResponseWriter, r *http.Request) {
	view, nav, ok := h.startView(r)
	if !ok {
		http.Redirect(w, r, nav.PathOr("/"), http.StatusSeeOther)
		return
	}
	defer view.Close()

	if err := r.ParseForm(); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	if err := view.Form.Submit(r.Context(), r.PostForm.Get("title"), r.PostForm.Get("url")); err != nil {
		h.render(w, r, statusFor(err), view, "")
		return
	}

	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

// Delete はブックマークを削除する。
// POST /dashboard/bookmarks/{id}/delete
func (h *DashboardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	view, nav, ok := h.startView(r)
	if !ok {
		http.Redirect(w, r, nav.PathOr("/"), http.StatusSeeOther)
		return
	}
	defer view.Close()

	if err := view.List.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.render(w, r, statusFor(err), view, errorMessage(err, "Failed to delete bookmark"))
		return
	}

	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *DashboardHandler) render(w http.ResponseWriter, r *http.Request, status int, view *dashboard.View, deleteErr string) {
	title, url := view.Form.Values()
	h.renderer.Render(w, status, "dashboard.html", web.Page{
		Title:     "Dashboard",
		CSRFToken: middleware.CSRFTokenFromContext(r.Context()),
		Data: dashboardData{
			Email:       view.Navbar.Email(),
			SigningOut:  view.Navbar.Busy(),
			FormTitle:   title,
			FormURL:     url,
			FormError:   view.Form.Error(),
			ListError:   view.List.Error(),
			DeleteError: deleteErr,
			Bookmarks:   view.List.Items(),
		},
	})
}

// Events はブックマークの変更をServer-Sent Eventsで配信する。
// 未認証やセッション失効を検知した時点で unauthenticated イベントを送って終了する。
// 変更フィードはレスポンスヘッダーを返す前に購読するため、クライアントが接続確立後に
// 一覧を取り直せば、その間の変更も取りこぼさない。
// GET /dashboard/events
func (h *DashboardHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		middleware.WriteInternalServerError(w)
		return
	}

	// サーバーのWriteTimeoutで接続が切れないよう書き込み期限を解除する
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Debug("failed to clear write deadline", slog.String("error", err.Error()))
	}

	ctx := r.Context()
	view := dashboard.NewView(h.sessions, h.store, middleware.SessionToken(r), nil, dashboard.WithoutInitialLoad())
	defer view.Close()

	events := make(chan model.BookmarkEvent, eventBufferSize)
	watching := view.Start(ctx) == dashboard.StateAuthenticated &&
		view.Watch(ctx, h.feed, func(ev model.BookmarkEvent) {
			select {
			case events <- ev:
			case <-ctx.Done():
			}
		})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if !watching {
		writeSSE(w, flusher, "unauthenticated", struct{}{})
		return
	}

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.Shutdown:
			return
		case <-view.Done():
			writeSSE(w, flusher, "unauthenticated", struct{}{})
			return
		case ev := <-events:
			name := "insert"
			if ev.Type == model.BookmarkEventDelete {
				name = "delete"
			}
			if err := writeSSE(w, flusher, name, ev.Bookmark); err != nil {
				slog.Debug("sse write failed", slog.String("error", err.Error()))
				return
			}
		case <-heartbeat.C:
			if view.Revalidate(ctx) != dashboard.StateAuthenticated {
				writeSSE(w, flusher, "unauthenticated", struct{}{})
				return
			}
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSE はイベントを1件書き込んでフラッシュする。
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// statusFor はエラーに対応するHTTPステータスを返す。
func statusFor(err error) int {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return middleware.StatusForError(apiErr)
	}
	return http.StatusInternalServerError
}

// errorMessage は画面表示用のメッセージを返す。内部エラーの詳細は表示しない。
func errorMessage(err error, fallback string) string {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return fallback
}
